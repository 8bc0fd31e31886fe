package imageproc

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"storyscene/internal/model"
)

// MaxAdjustFactor 调整系数上限
const MaxAdjustFactor = 4.0

// Adjustment 亮度、对比度、饱和度系数，1表示不变
type Adjustment struct {
	Brightness float64 `json:"brightness"`
	Contrast   float64 `json:"contrast"`
	Saturation float64 `json:"saturation"`
}

// NoAdjustment 三个系数均为1
func NoAdjustment() Adjustment {
	return Adjustment{Brightness: 1, Contrast: 1, Saturation: 1}
}

// Validate 系数必须在 [0, MaxAdjustFactor] 内
func (a Adjustment) Validate() error {
	for name, v := range map[string]float64{"brightness": a.Brightness, "contrast": a.Contrast, "saturation": a.Saturation} {
		if math.IsNaN(v) || v < 0 || v > MaxAdjustFactor {
			return model.Errorf(model.KindMissingInput, "%s must be between 0 and %g, got %g", name, MaxAdjustFactor, v)
		}
	}
	return nil
}

func (a Adjustment) String() string {
	return fmt.Sprintf("brightness=%g contrast=%g saturation=%g", a.Brightness, a.Contrast, a.Saturation)
}

// Adjust 依次调整亮度、对比度、饱和度后写入PNG，透明度保持不变
func (p *Local) Adjust(ctx context.Context, inputPath, outputPath string, adj Adjustment) (model.ImageArtifact, error) {
	if err := ctx.Err(); err != nil {
		return model.ImageArtifact{}, err
	}
	if err := adj.Validate(); err != nil {
		return model.ImageArtifact{}, err
	}
	src, err := loadImage(inputPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	out := adjust(src, adj)
	if err := SavePNG(outputPath, out); err != nil {
		return model.ImageArtifact{}, err
	}
	b := out.Bounds()
	p.log.WithFields(logrus.Fields{"output": outputPath, "adjustment": adj.String()}).Info("图片调整完成")
	return model.ImageArtifact{
		Status:     string(model.ResultSuccess),
		OutputPath: outputPath,
		Provider:   "local",
		Width:      b.Dx(),
		Height:     b.Dy(),
		Details: map[string]any{
			"brightness": adj.Brightness,
			"contrast":   adj.Contrast,
			"saturation": adj.Saturation,
		},
	}, nil
}

// adjust 每一步都是与退化图像的线性插值：
// 亮度向全黑插值，对比度向平均灰度插值，饱和度向灰度图插值。
func adjust(src image.Image, adj Adjustment) *image.NRGBA {
	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)

	if adj.Brightness != 1 {
		eachPixel(img, func(r, g, b float64) (float64, float64, float64) {
			return r * adj.Brightness, g * adj.Brightness, b * adj.Brightness
		})
	}
	if adj.Contrast != 1 {
		mean := math.Floor(meanLuma(img) + 0.5)
		eachPixel(img, func(r, g, b float64) (float64, float64, float64) {
			return blend(mean, r, adj.Contrast), blend(mean, g, adj.Contrast), blend(mean, b, adj.Contrast)
		})
	}
	if adj.Saturation != 1 {
		eachPixel(img, func(r, g, b float64) (float64, float64, float64) {
			l := luma(r, g, b)
			return blend(l, r, adj.Saturation), blend(l, g, adj.Saturation), blend(l, b, adj.Saturation)
		})
	}
	return img
}

func blend(base, v, factor float64) float64 {
	return base + (v-base)*factor
}

func luma(r, g, b float64) float64 {
	return (299*r + 587*g + 114*b) / 1000
}

func meanLuma(img *image.NRGBA) float64 {
	n := len(img.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(img.Pix); i += 4 {
		sum += luma(float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2]))
	}
	return sum / float64(n)
}

func eachPixel(img *image.NRGBA, fn func(r, g, b float64) (float64, float64, float64)) {
	for i := 0; i < len(img.Pix); i += 4 {
		r, g, b := fn(float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2]))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = clamp8(r), clamp8(g), clamp8(b)
	}
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(v)
	}
}
