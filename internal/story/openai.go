package story

import (
	"context"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"storyscene/internal/model"
)

// OpenAIConfig OpenAI对话参数
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider 基于OpenAI结构化输出的故事生成器
type OpenAIProvider struct {
	client openai.Client
	model  string
	log    *logrus.Entry
}

var storySchema = generateSchema[storyPayload]()

func generateSchema[T any]() any {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// NewOpenAIProvider 创建OpenAI故事生成器
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key: %w", model.ErrUnavailable)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		log:    logrus.WithFields(logrus.Fields{"component": "story_provider", "backend": "openai"}),
	}, nil
}

// Generate 生成故事
func (p *OpenAIProvider) Generate(ctx context.Context, userPrompt string) (model.StoryResult, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage("Story idea: " + userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "story",
					Description: openai.String("Story with character and background descriptions"),
					Schema:      storySchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return model.StoryResult{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.StoryResult{}, errors.New("no response from OpenAI")
	}
	res, err := parseStory(completion.Choices[0].Message.Content)
	if err != nil {
		return model.StoryResult{}, err
	}
	res.Provider = "openai"
	p.log.WithField("length", len(res.Content)).Info("故事生成完成")
	return res, nil
}

var _ Provider = (*OpenAIProvider)(nil)
