package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// StoryTool 实现eino框架的故事生成工具
type StoryTool struct {
	runner Runner
}

// StoryToolArgs 故事生成请求参数
type StoryToolArgs struct {
	Prompt    string `json:"prompt"`               // 故事创意
	SessionID string `json:"session_id,omitempty"` // 会话ID
}

// StoryToolResp 故事生成响应
type StoryToolResp struct {
	SessionID      string `json:"session_id"`
	Story          string `json:"story"`
	CharacterDesc  string `json:"character_description"`
	BackgroundDesc string `json:"background_description"`
	FilePath       string `json:"file_path"`
	IsFallback     bool   `json:"is_fallback"`
	Message        string `json:"message"` // 提示信息
}

// NewStoryTool 创建故事生成工具实例
func NewStoryTool(runner Runner) *StoryTool {
	return &StoryTool{runner: runner}
}

// Info 获取故事生成工具信息
func (t *StoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":     {Type: schema.String, Required: true, Desc: "故事创意"},
		"session_id": {Type: schema.String, Required: false, Desc: "会话ID，为空时自动生成"},
	}
	return &schema.ToolInfo{
		Name:        "story_generate",
		Desc:        "根据创意生成短篇故事，并给出角色和场景的画面描述",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

// InvokableRun 执行故事生成任务
func (t *StoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args StoryToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if args.Prompt == "" {
		return "", errors.New("prompt required")
	}

	res := t.runner.GenerateStoryOnly(ctx, args.Prompt, args.SessionID)
	if !res.OK() {
		return "", fmt.Errorf("故事生成失败: %s", res.Error)
	}

	response := StoryToolResp{
		SessionID: res.SessionID,
		Message:   "故事生成完成",
	}
	if s := res.Results.Story; s != nil {
		response.Story = s.Content
		response.CharacterDesc = s.CharacterDescriptions
		response.BackgroundDesc = s.BackgroundDescriptions
		response.FilePath = s.FilePath
		response.IsFallback = s.IsFallback
	}

	b, err := json.Marshal(response)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// 确保StoryTool实现了einotool.InvokableTool接口
var _ einotool.InvokableTool = (*StoryTool)(nil)
