package story

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"storyscene/internal/model"
	"storyscene/internal/volc"
)

// ArkConfig 方舟对话模型参数
type ArkConfig struct {
	APIKey  string
	Model   string
	Region  string
	Timeout time.Duration
}

// ChatProvider 通过eino编排 模板->对话模型 生成故事
type ChatProvider struct {
	name     string
	runnable compose.Runnable[map[string]any, *schema.Message]
	log      *logrus.Entry
}

// NewArkProvider 创建基于方舟对话模型的故事生成器
func NewArkProvider(ctx context.Context, cfg ArkConfig) (*ChatProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ark api key: %w", model.ErrUnavailable)
	}
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:     cfg.APIKey,
		Region:     cfg.Region,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Model:      cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chatmodel: %w", err)
	}
	return NewChatProvider(ctx, "ark", chatModel)
}

// NewChatProvider 用任意eino对话模型构建故事生成图
func NewChatProvider(ctx context.Context, name string, cm einomodel.BaseChatModel) (*ChatProvider, error) {
	template := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage("Story idea: {{.prompt}}"),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("template", template); err != nil {
		return nil, fmt.Errorf("failed to add template node: %w", err)
	}
	if err := graph.AddChatModelNode("model", cm); err != nil {
		return nil, fmt.Errorf("failed to add model node: %w", err)
	}
	_ = graph.AddEdge(compose.START, "template")
	_ = graph.AddEdge("template", "model")
	_ = graph.AddEdge("model", compose.END)

	runnable, err := graph.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph: %w", err)
	}
	return &ChatProvider{
		name:     name,
		runnable: runnable,
		log:      logrus.WithFields(logrus.Fields{"component": "story_provider", "backend": name}),
	}, nil
}

// Generate 生成故事
func (p *ChatProvider) Generate(ctx context.Context, userPrompt string) (model.StoryResult, error) {
	msg, err := p.runnable.Invoke(ctx, map[string]any{"prompt": userPrompt})
	if err != nil {
		return model.StoryResult{}, fmt.Errorf("graph invocation failed: %w", err)
	}
	res, err := parseStory(msg.Content)
	if err != nil {
		return model.StoryResult{}, err
	}
	res.Provider = p.name
	p.log.WithField("length", len(res.Content)).Info("故事生成完成")
	return res, nil
}

// ClientProvider 直接调用方舟chat接口，支持mock模式
type ClientProvider struct {
	ark   *volc.ArkClient
	Model string
	log   *logrus.Entry
}

// NewClientProvider 创建基于ArkClient的故事生成器
func NewClientProvider(ark *volc.ArkClient, chatModel string) *ClientProvider {
	return &ClientProvider{
		ark:   ark,
		Model: chatModel,
		log:   logrus.WithFields(logrus.Fields{"component": "story_provider", "backend": "ark_http"}),
	}
}

// Generate 生成故事
func (p *ClientProvider) Generate(ctx context.Context, userPrompt string) (model.StoryResult, error) {
	content, err := p.ark.ChatJSON(ctx, p.Model, systemPrompt, "Story idea: "+userPrompt)
	if err != nil {
		return model.StoryResult{}, err
	}
	res, err := parseStory(content)
	if err != nil {
		return model.StoryResult{}, err
	}
	res.Provider = "ark_http"
	p.log.WithField("length", len(res.Content)).Info("故事生成完成")
	return res, nil
}

var (
	_ Provider = (*ChatProvider)(nil)
	_ Provider = (*ClientProvider)(nil)
)
