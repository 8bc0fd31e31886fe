package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"storyscene/internal/imageproc"
	"storyscene/internal/model"
)

// Kind 画面类型
type Kind string

const (
	KindCharacter  Kind = "character"
	KindBackground Kind = "background"
)

// Provider 图片生成接口，成功时在outputPath写入PNG
type Provider interface {
	GenerateCharacter(ctx context.Context, description, outputPath string) (model.ImageArtifact, error)
	GenerateBackground(ctx context.Context, description, outputPath string) (model.ImageArtifact, error)
}

// OptimizePrompt 按画面类型补充质量描述
func OptimizePrompt(description string, kind Kind) string {
	clean := strings.ToLower(strings.TrimSpace(description))
	if kind == KindCharacter {
		return clean + ", full body, plain white background, high quality, detailed character portrait, professional photography, sharp focus, 8k resolution"
	}
	return clean + ", high quality, detailed landscape, professional photography, sharp focus, 8k resolution"
}

// writePNG 解码任意支持格式的图片并以PNG写入
func writePNG(data []byte, outputPath string) (int, int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0, model.NewError(model.KindProviderError, "decode generated image", err)
	}
	if err := imageproc.SavePNG(outputPath, img); err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// PlaceholderPath 占位文件路径，把图片扩展名替换为 _placeholder.txt
func PlaceholderPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + "_placeholder.txt"
}

// WritePlaceholder 图片生成组件不可用时写入文本占位文件
func WritePlaceholder(outputPath string, kind Kind, description string) (model.ImageArtifact, error) {
	path := PlaceholderPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.ImageArtifact{}, model.NewError(model.KindIO, "create placeholder directory", err)
	}
	body := fmt.Sprintf("Placeholder for %s image\nImage generation is unavailable.\n\nDescription: %s\nOptimized prompt: %s\nCreated: %s\n",
		kind, description, OptimizePrompt(description, kind), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return model.ImageArtifact{}, model.NewError(model.KindIO, "write placeholder file", err)
	}
	return model.ImageArtifact{
		Status:        string(model.ResultSuccess),
		OutputPath:    path,
		IsPlaceholder: true,
		Prompt:        description,
		Provider:      "placeholder",
		Details:       map[string]any{"message": "image provider unavailable, placeholder written"},
	}, nil
}
