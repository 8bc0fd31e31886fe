package story

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"storyscene/internal/model"
)

// Provider 故事文本生成接口
type Provider interface {
	Generate(ctx context.Context, prompt string) (model.StoryResult, error)
}

// systemPrompt 要求模型以固定JSON结构返回故事和两段描述
const systemPrompt = `You are a creative short story writer working with an illustrator.
Write a short, vivid story (about 150 to 250 words) based on the user's idea.
Then describe the main character and the setting so an image model can draw them.

Respond with JSON only, using exactly these keys:
{"story": "...", "character_description": "...", "background_description": "..."}

The character description covers appearance, clothing and pose against a plain background.
The background description covers the location, lighting and mood with no people in it.`

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*\\S)\\s*```")

type storyPayload struct {
	Story                 string `json:"story" jsonschema_description:"The short story text"`
	CharacterDescription  string `json:"character_description" jsonschema_description:"Visual description of the main character"`
	BackgroundDescription string `json:"background_description" jsonschema_description:"Visual description of the setting without characters"`
}

// parseStory 解析模型输出，兼容```json代码块和前后多余文本
func parseStory(raw string) (model.StoryResult, error) {
	content := strings.TrimSpace(raw)
	if m := jsonBlockRegex.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}
	var p storyPayload
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		// 非JSON输出时把整段文本当作故事
		text := strings.TrimSpace(raw)
		if text == "" {
			return model.StoryResult{}, fmt.Errorf("empty story content")
		}
		return model.StoryResult{Content: text}, nil
	}
	if strings.TrimSpace(p.Story) == "" {
		return model.StoryResult{}, fmt.Errorf("story missing in model output: %s", raw)
	}
	return model.StoryResult{
		Content:        strings.TrimSpace(p.Story),
		CharacterDesc:  strings.TrimSpace(p.CharacterDescription),
		BackgroundDesc: strings.TrimSpace(p.BackgroundDescription),
	}, nil
}

// Title 由提示词生成标题
func Title(prompt string) string {
	r := []rune(strings.TrimSpace(prompt))
	if len(r) > 50 {
		return "Story: " + string(r[:50]) + "..."
	}
	return "Story: " + string(r)
}

// Fallback 模板故事，故事生成组件不可用时使用
func Fallback(prompt string) model.StoryResult {
	p := strings.TrimSpace(prompt)
	content := fmt.Sprintf("Once upon a time, in a world not so different from our own, there lived a brave soul who discovered %s. "+
		"At first it seemed like an ordinary day, but soon everything began to change. "+
		"With courage and curiosity, our hero set out to understand the mystery of %s, meeting unexpected friends and facing surprising challenges along the way. "+
		"In the end, the journey revealed that the greatest adventures often begin with the smallest sparks of wonder.", p, p)
	return model.StoryResult{
		Content:        content,
		CharacterDesc:  fmt.Sprintf("A determined and resourceful character who embarks on an incredible journey involving %s", p),
		BackgroundDesc: fmt.Sprintf("A fascinating and dynamic setting where %s unfolds, filled with wonder and possibility", p),
		Provider:       "template",
		IsFallback:     true,
	}
}

// FormatTranscript 生成故事文件内容，四个小节顺序固定
func FormatTranscript(prompt string, res model.StoryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Prompt: %s\n\n", prompt)
	fmt.Fprintf(&b, "Generated Story:\n%s\n\n", res.Content)
	fmt.Fprintf(&b, "Character Descriptions:\n%s\n\n", res.CharacterDesc)
	fmt.Fprintf(&b, "Background Descriptions:\n%s\n", res.BackgroundDesc)
	return b.String()
}

// WriteTranscript 写入故事文件
func WriteTranscript(path, prompt string, res model.StoryResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.NewError(model.KindIO, "create story directory", err)
	}
	if err := os.WriteFile(path, []byte(FormatTranscript(prompt, res)), 0o644); err != nil {
		return model.NewError(model.KindIO, "write story file", err)
	}
	return nil
}

// ParseTranscript 从故事文件中取出各小节
func ParseTranscript(text string) map[string]string {
	labels := []string{"User Prompt:", "Generated Story:", "Character Descriptions:", "Background Descriptions:"}
	out := make(map[string]string, len(labels))
	for i, label := range labels {
		start := strings.Index(text, label)
		if start < 0 {
			continue
		}
		start += len(label)
		end := len(text)
		if i+1 < len(labels) {
			if next := strings.Index(text[start:], labels[i+1]); next >= 0 {
				end = start + next
			}
		}
		out[strings.TrimSuffix(label, ":")] = strings.TrimSpace(text[start:end])
	}
	return out
}
