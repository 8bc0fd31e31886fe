package tools

import (
	"context"

	"storyscene/internal/model"
	"storyscene/internal/orchestrator"
)

// Runner 工具依赖的编排器入口
type Runner interface {
	GenerateStoryOnly(ctx context.Context, prompt, sessionID string, opts ...orchestrator.RunOption) *model.Result
	GenerateCharacterOnly(ctx context.Context, prompt, sessionID string, opts ...orchestrator.RunOption) *model.Result
	GenerateBackgroundOnly(ctx context.Context, prompt, sessionID string, opts ...orchestrator.RunOption) *model.Result
}

var _ Runner = (*orchestrator.Orchestrator)(nil)
