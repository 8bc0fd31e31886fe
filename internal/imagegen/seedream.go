package imagegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"storyscene/internal/model"
	"storyscene/internal/volc"
)

// SeedreamProvider 调用Seedream生成图片
type SeedreamProvider struct {
	ark   *volc.ArkClient
	Model string
	Size  string
	log   *logrus.Entry
}

// NewSeedreamProvider 创建Seedream图片生成器
func NewSeedreamProvider(ark *volc.ArkClient, imageModel, size string) (*SeedreamProvider, error) {
	if !ark.Available() {
		return nil, fmt.Errorf("ark client: %w", model.ErrUnavailable)
	}
	return &SeedreamProvider{
		ark:   ark,
		Model: imageModel,
		Size:  size,
		log:   logrus.WithFields(logrus.Fields{"component": "image_provider", "backend": "seedream"}),
	}, nil
}

func (p *SeedreamProvider) GenerateCharacter(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	return p.generate(ctx, KindCharacter, description, outputPath)
}

func (p *SeedreamProvider) GenerateBackground(ctx context.Context, description, outputPath string) (model.ImageArtifact, error) {
	return p.generate(ctx, KindBackground, description, outputPath)
}

func (p *SeedreamProvider) generate(ctx context.Context, kind Kind, description, outputPath string) (model.ImageArtifact, error) {
	prompt := OptimizePrompt(description, kind)
	p.log.WithFields(logrus.Fields{"kind": kind, "prompt": prompt}).Info("开始生成图片")

	refs, err := p.ark.GenerateImages(ctx, volc.ImageGenParams{
		Model:  p.Model,
		Prompt: prompt,
		Size:   p.Size,
	})
	if err != nil {
		return model.ImageArtifact{}, err
	}
	if len(refs) == 0 {
		return model.ImageArtifact{}, errors.New("no images returned")
	}
	data, err := p.ark.FetchImage(ctx, refs[0])
	if err != nil {
		return model.ImageArtifact{}, fmt.Errorf("fetch generated image: %w", err)
	}
	w, h, err := writePNG(data, outputPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	return model.ImageArtifact{
		Status:     string(model.ResultSuccess),
		OutputPath: outputPath,
		Prompt:     prompt,
		Provider:   "seedream",
		Width:      w,
		Height:     h,
		Details:    map[string]any{"model": p.Model, "size": p.Size},
	}, nil
}

var _ Provider = (*SeedreamProvider)(nil)
