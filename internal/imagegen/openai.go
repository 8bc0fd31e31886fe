package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"storyscene/internal/model"
)

// OpenAIConfig DALL-E参数
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
}

// OpenAIProvider 调用OpenAI图片接口生成图片
type OpenAIProvider struct {
	client *openai.Client
	model  string
	size   string
	log    *logrus.Entry
}

// NewOpenAIProvider 创建DALL-E图片生成器
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key: %w", model.ErrUnavailable)
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.CreateImageModelDallE3
	}
	if cfg.Size == "" {
		cfg.Size = openai.CreateImageSize1024x1024
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		size:   cfg.Size,
		log:    logrus.WithFields(logrus.Fields{"component": "image_provider", "backend": "openai"}),
	}, nil
}

func (p *OpenAIProvider) GenerateCharacter(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	return p.generate(ctx, KindCharacter, description, outputPath)
}

func (p *OpenAIProvider) GenerateBackground(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	return p.generate(ctx, KindBackground, description, outputPath)
}

func (p *OpenAIProvider) generate(ctx context.Context, kind Kind, description, outputPath string) (model.ImageArtifact, error) {
	prompt := OptimizePrompt(description, kind)
	p.log.WithFields(logrus.Fields{"kind": kind, "prompt": prompt}).Info("开始生成图片")

	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          p.model,
		Size:           p.size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}
	if p.model == openai.CreateImageModelDallE3 {
		req.Style = openai.CreateImageStyleVivid
	}
	response, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return model.ImageArtifact{}, fmt.Errorf("OpenAI image generation failed: %w", err)
	}
	if len(response.Data) == 0 || response.Data[0].B64JSON == "" {
		return model.ImageArtifact{}, fmt.Errorf("OpenAI returned empty image data")
	}
	data, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return model.ImageArtifact{}, model.NewError(model.KindProviderError, "decode image payload", err)
	}
	w, h, err := writePNG(data, outputPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	details := map[string]any{"model": p.model, "size": p.size}
	if rp := response.Data[0].RevisedPrompt; rp != "" {
		details["revised_prompt"] = rp
	}
	return model.ImageArtifact{
		Status:     string(model.ResultSuccess),
		OutputPath: outputPath,
		Prompt:     prompt,
		Provider:   "openai",
		Width:      w,
		Height:     h,
		Details:    details,
	}, nil
}

var _ Provider = (*OpenAIProvider)(nil)
