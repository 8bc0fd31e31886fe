package imagegen

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"storyscene/internal/model"
)

// RateLimited 对图片生成调用限速，所有会话共享同一个令牌桶
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// WithRateLimit 包装Provider，interval<=0时不限速
func WithRateLimit(next Provider, interval time.Duration, burst int) Provider {
	if interval <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Every(interval), burst)}
}

func (r *RateLimited) GenerateCharacter(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.ImageArtifact{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.GenerateCharacter(ctx, description, outputPath)
}

func (r *RateLimited) GenerateBackground(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.ImageArtifact{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.GenerateBackground(ctx, description, outputPath)
}

var _ Provider = (*RateLimited)(nil)
