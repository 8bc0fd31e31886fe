package volc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBase       = "https://ark.cn-beijing.volces.com"
	defaultImageModel = "doubao-seedream-4.0"
	maxDownloadBytes  = 32 << 20
)

// mockImage mock模式返回的图片：白底中间一个色块，base64编码的PNG
var mockImage = encodeMockImage(MockImageSize)

// MockImageSize mock图片边长
const MockImageSize = 64

func encodeMockImage(size int) string {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= size/4 && x < size*3/4 && y >= size/4 && y < size*3/4 {
				c = color.NRGBA{R: 200, G: 60, B: 40, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(fmt.Sprintf("encode mock image: %v", err))
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// ArkClient 火山方舟HTTP客户端
type ArkClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Mock       bool
	log        *logrus.Entry
}

// Options 客户端参数
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Mock    bool
}

// NewArkClient 创建客户端
func NewArkClient(opts Options) *ArkClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &ArkClient{
		BaseURL:    strings.TrimRight(opts.BaseURL, "/"),
		APIKey:     opts.APIKey,
		HTTPClient: &http.Client{Timeout: opts.Timeout},
		Mock:       opts.Mock,
		log:        logrus.WithField("component", "ark_client"),
	}
}

// Available 是否具备调用条件
func (c *ArkClient) Available() bool {
	return c != nil && (c.Mock || c.APIKey != "")
}

type ImageGenParams struct {
	Model                     string
	Prompt                    string
	Size                      string
	SequentialImageGeneration string
	ImageInputs               []string
	MaxImages                 int
}

// GenerateImages 调用Seedream生成图片，返回URL或data URI
func (c *ArkClient) GenerateImages(ctx context.Context, p ImageGenParams) ([]string, error) {
	if c.Mock {
		return []string{"data:image/png;base64," + mockImage}, nil
	}
	if p.Model == "" {
		p.Model = defaultImageModel
	}
	if p.Size == "" {
		p.Size = "1024x1024"
	}
	if p.MaxImages == 0 {
		p.MaxImages = 1
	}
	body := map[string]any{
		"model":           p.Model,
		"prompt":          p.Prompt,
		"size":            p.Size,
		"response_format": "b64_json",
		"watermark":       false,
	}
	if p.SequentialImageGeneration != "" {
		body["sequential_image_generation"] = p.SequentialImageGeneration
		if p.SequentialImageGeneration == "auto" && p.MaxImages > 0 {
			body["sequential_image_generation_options"] = map[string]any{"max_images": p.MaxImages}
		}
	}
	if len(p.ImageInputs) > 0 {
		body["image"] = p.ImageInputs
	}

	var resp struct {
		Data []struct {
			URL    string `json:"url"`
			B64    string `json:"b64_json"`
			Format string `json:"format"`
		} `json:"data"`
	}
	if err := c.postJSON(ctx, "/api/v3/images/generations", body, &resp); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.URL != "" {
			urls = append(urls, d.URL)
			continue
		}
		if d.B64 != "" {
			fmtType := d.Format
			if fmtType == "" {
				fmtType = "png"
			}
			urls = append(urls, "data:image/"+fmtType+";base64,"+d.B64)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("no images returned")
	}
	return urls, nil
}

// FetchImage 读取图片内容，支持data URI和http(s)地址
func (c *ArkClient) FetchImage(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "data:") {
		idx := strings.Index(ref, ";base64,")
		if idx < 0 {
			return nil, errors.New("unsupported data uri")
		}
		return base64.StdEncoding.DecodeString(ref[idx+len(";base64,"):])
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("download image: http %d", res.StatusCode)
	}
	return io.ReadAll(io.LimitReader(res.Body, maxDownloadBytes))
}

func (c *ArkClient) postJSON(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	c.log.WithField("url", req.URL.String()).Debug("POST")
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	return json.Unmarshal(bodyBytes, out)
}

// ChatJSON 单轮对话，返回模型输出文本
func (c *ArkClient) ChatJSON(ctx context.Context, model, system, prompt string) (string, error) {
	if c.Mock {
		return mockStory(prompt), nil
	}
	if model == "" {
		return "", errors.New("model required")
	}
	messages := make([]map[string]any, 0, 2)
	if system != "" {
		messages = append(messages, map[string]any{"role": "system", "content": system})
	}
	messages = append(messages, map[string]any{"role": "user", "content": prompt})
	reqBody := map[string]any{
		"model":    model,
		"messages": messages,
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/api/v3/chat/completions", reqBody, &resp); err != nil {
		return "", err
	}
	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		if content == "" {
			content = resp.Choices[0].Delta.Content
		}
	}
	if content == "" {
		return "", errors.New("empty chat content")
	}
	return content, nil
}

func mockStory(prompt string) string {
	b, _ := json.Marshal(map[string]string{
		"story":                  "A short mock story about " + prompt + ".",
		"character_description":  "A cheerful explorer inspired by " + prompt,
		"background_description": "A bright meadow where " + prompt + " takes place",
	})
	return string(b)
}
