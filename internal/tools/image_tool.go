package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"storyscene/internal/model"
)

type ImageTool struct {
	runner Runner
}

type ImageToolArgs struct {
	Prompt    string `json:"prompt"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
}

type ImageToolResp struct {
	SessionID     string `json:"session_id"`
	Kind          string `json:"kind"`
	OutputPath    string `json:"output_path"`
	IsPlaceholder bool   `json:"is_placeholder"`
}

func NewImageTool(runner Runner) *ImageTool {
	return &ImageTool{runner: runner}
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{
		"prompt":     {Type: schema.String, Required: true, Desc: "画面描述"},
		"kind":       {Type: schema.String, Required: false, Desc: "character或background，默认character", Enum: []string{"character", "background"}},
		"session_id": {Type: schema.String, Required: false, Desc: "会话ID"},
	}
	return &schema.ToolInfo{
		Name:        "image_generate",
		Desc:        "根据描述生成角色图或背景图，保存到会话目录",
		ParamsOneOf: schema.NewParamsOneOfByParams(params),
	}, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...einotool.Option) (string, error) {
	var args ImageToolArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", err
	}
	if args.Prompt == "" {
		return "", errors.New("prompt required")
	}

	var (
		res   *model.Result
		entry func(*model.ImageSection) *model.ImageEntry
	)
	switch args.Kind {
	case "", "character":
		args.Kind = "character"
		res = t.runner.GenerateCharacterOnly(ctx, args.Prompt, args.SessionID)
		entry = func(s *model.ImageSection) *model.ImageEntry { return s.Character }
	case "background":
		res = t.runner.GenerateBackgroundOnly(ctx, args.Prompt, args.SessionID)
		entry = func(s *model.ImageSection) *model.ImageEntry { return s.Background }
	default:
		return "", fmt.Errorf("unknown kind %q", args.Kind)
	}
	if !res.OK() {
		return "", fmt.Errorf("图片生成失败: %s", res.Error)
	}

	out := ImageToolResp{SessionID: res.SessionID, Kind: args.Kind}
	if res.Results.Images != nil {
		if e := entry(res.Results.Images); e != nil {
			out.OutputPath = e.FilePath
			out.IsPlaceholder = e.Result.IsPlaceholder
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ einotool.InvokableTool = (*ImageTool)(nil)
