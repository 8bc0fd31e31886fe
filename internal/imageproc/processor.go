package imageproc

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"storyscene/internal/model"
)

const (
	// CompositeHeightPercent 前景高度占背景高度的百分比
	CompositeHeightPercent = 40
	// CompositeBottomMargin 前景底边距背景底边的像素
	CompositeBottomMargin = 50
	// DefaultMergeHeight 左右拼接时的统一高度
	DefaultMergeHeight = 512
	// DefaultTolerance 抠图时与背景色的距离阈值
	DefaultTolerance = 48
	// ThumbnailSize 缩略图最大边长
	ThumbnailSize = 256
)

// Processor 图片后处理接口
type Processor interface {
	RemoveBackground(ctx context.Context, inputPath, outputPath string) (model.ImageArtifact, error)
	Composite(ctx context.Context, foregroundPath, backgroundPath, outputPath string) (model.ImageArtifact, error)
	MergeSideBySide(ctx context.Context, leftPath, rightPath, outputPath string) (model.ImageArtifact, error)
	Adjust(ctx context.Context, inputPath, outputPath string, adj Adjustment) (model.ImageArtifact, error)
}

// Options 后处理参数
type Options struct {
	Tolerance   int
	MergeHeight int
}

// Local 基于纯Go图像库的后处理实现
type Local struct {
	tolerance   int
	mergeHeight int
	log         *logrus.Entry
}

// NewLocal 创建本地后处理器
func NewLocal(opts Options) *Local {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.MergeHeight <= 0 {
		opts.MergeHeight = DefaultMergeHeight
	}
	return &Local{
		tolerance:   opts.Tolerance,
		mergeHeight: opts.MergeHeight,
		log:         logrus.WithField("component", "image_processor"),
	}
}

// RemoveBackground 去除图片背景，输出带透明通道的PNG
func (p *Local) RemoveBackground(ctx context.Context, inputPath, outputPath string) (model.ImageArtifact, error) {
	if err := ctx.Err(); err != nil {
		return model.ImageArtifact{}, err
	}
	src, err := loadImage(inputPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	out, removed := removeBackground(src, p.tolerance)
	if err := SavePNG(outputPath, out); err != nil {
		return model.ImageArtifact{}, err
	}
	b := out.Bounds()
	p.log.WithFields(logrus.Fields{"input": inputPath, "output": outputPath, "removed_pixels": removed}).Info("背景去除完成")
	return model.ImageArtifact{
		Status:     string(model.ResultSuccess),
		OutputPath: outputPath,
		Provider:   "local",
		Width:      b.Dx(),
		Height:     b.Dy(),
		Details:    map[string]any{"removed_pixels": removed, "tolerance": p.tolerance},
	}, nil
}

// Composite 把前景按背景高度的40%等比缩放，水平居中、距底边50像素贴到背景上
func (p *Local) Composite(ctx context.Context, foregroundPath, backgroundPath, outputPath string) (model.ImageArtifact, error) {
	if err := ctx.Err(); err != nil {
		return model.ImageArtifact{}, err
	}
	fg, err := loadImage(foregroundPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	bg, err := loadImage(backgroundPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	out, placement, err := composite(fg, bg)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	if err := SavePNG(outputPath, out); err != nil {
		return model.ImageArtifact{}, err
	}
	b := out.Bounds()
	p.log.WithFields(logrus.Fields{"output": outputPath, "placement": placement.String()}).Info("场景合成完成")
	return model.ImageArtifact{
		Status:     string(model.ResultSuccess),
		OutputPath: outputPath,
		Provider:   "local",
		Width:      b.Dx(),
		Height:     b.Dy(),
		Details: map[string]any{
			"character_x":      placement.Min.X,
			"character_y":      placement.Min.Y,
			"character_width":  placement.Dx(),
			"character_height": placement.Dy(),
		},
	}, nil
}

// MergeSideBySide 两张图缩放到统一高度后左右拼接
func (p *Local) MergeSideBySide(ctx context.Context, leftPath, rightPath, outputPath string) (model.ImageArtifact, error) {
	if err := ctx.Err(); err != nil {
		return model.ImageArtifact{}, err
	}
	left, err := loadImage(leftPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	right, err := loadImage(rightPath)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	out, err := mergeSideBySide(left, right, p.mergeHeight)
	if err != nil {
		return model.ImageArtifact{}, err
	}
	if err := SavePNG(outputPath, out); err != nil {
		return model.ImageArtifact{}, err
	}
	b := out.Bounds()
	p.log.WithFields(logrus.Fields{"output": outputPath, "width": b.Dx(), "height": b.Dy()}).Info("图片拼接完成")
	return model.ImageArtifact{
		Status:     string(model.ResultSuccess),
		OutputPath: outputPath,
		Provider:   "local",
		Width:      b.Dx(),
		Height:     b.Dy(),
	}, nil
}

func composite(fg, bg image.Image) (image.Image, image.Rectangle, error) {
	fb, bb := fg.Bounds(), bg.Bounds()
	if fb.Empty() || bb.Empty() {
		return nil, image.Rectangle{}, model.Errorf(model.KindProviderError, "cannot composite empty image")
	}
	th := bb.Dy() * CompositeHeightPercent / 100
	if th < 1 {
		th = 1
	}
	tw := th * fb.Dx() / fb.Dy()
	if tw < 1 {
		tw = 1
	}
	x := (bb.Dx() - tw) / 2
	y := bb.Dy() - th - CompositeBottomMargin

	canvas := image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.Draw(canvas, canvas.Bounds(), bg, bb.Min, draw.Src)

	scaled := image.NewNRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), fg, fb, draw.Src, nil)

	target := image.Rect(x, y, x+tw, y+th)
	draw.Draw(canvas, target, scaled, image.Point{}, draw.Over)
	return canvas, target, nil
}

func mergeSideBySide(left, right image.Image, height int) (image.Image, error) {
	lb, rb := left.Bounds(), right.Bounds()
	if lb.Empty() || rb.Empty() {
		return nil, model.Errorf(model.KindProviderError, "cannot merge empty image")
	}
	lw := scaledWidth(lb, height)
	rw := scaledWidth(rb, height)

	canvas := image.NewRGBA(image.Rect(0, 0, lw+rw, height))
	draw.CatmullRom.Scale(canvas, image.Rect(0, 0, lw, height), left, lb, draw.Src, nil)
	draw.CatmullRom.Scale(canvas, image.Rect(lw, 0, lw+rw, height), right, rb, draw.Src, nil)
	return canvas, nil
}

func scaledWidth(b image.Rectangle, height int) int {
	w := b.Dx() * height / b.Dy()
	if w < 1 {
		w = 1
	}
	return w
}

// removeBackground 以四角平均色为背景色，从边缘像素出发做洪水填充，把连通的相近色置为透明
func removeBackground(src image.Image, tolerance int) (*image.NRGBA, int) {
	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 {
		return img, 0
	}
	key := cornerColor(img)
	tol2 := tolerance * tolerance
	matches := func(x, y int) bool {
		c := img.NRGBAAt(x, y)
		if c.A < 16 {
			return true
		}
		dr := int(c.R) - int(key.R)
		dg := int(c.G) - int(key.G)
		db := int(c.B) - int(key.B)
		return dr*dr+dg*dg+db*db <= tol2
	}

	visited := make([]bool, w*h)
	queue := make([]image.Point, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if visited[i] || !matches(x, y) {
			return
		}
		visited[i] = true
		queue = append(queue, image.Point{X: x, Y: y})
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(queue) > 0 {
		pt := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if pt.X > 0 {
			push(pt.X-1, pt.Y)
		}
		if pt.X < w-1 {
			push(pt.X+1, pt.Y)
		}
		if pt.Y > 0 {
			push(pt.X, pt.Y-1)
		}
		if pt.Y < h-1 {
			push(pt.X, pt.Y+1)
		}
	}

	removed := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if visited[i] {
				img.SetNRGBA(x, y, color.NRGBA{})
				removed++
				continue
			}
			// 与背景相邻的边缘像素做一像素羽化
			if touchesBackground(visited, w, h, x, y) {
				c := img.NRGBAAt(x, y)
				c.A = c.A / 2
				img.SetNRGBA(x, y, c)
			}
		}
	}
	return img, removed
}

func touchesBackground(visited []bool, w, h, x, y int) bool {
	return (x > 0 && visited[y*w+x-1]) ||
		(x < w-1 && visited[y*w+x+1]) ||
		(y > 0 && visited[(y-1)*w+x]) ||
		(y < h-1 && visited[(y+1)*w+x])
}

func cornerColor(img *image.NRGBA) color.NRGBA {
	b := img.Bounds()
	pts := []image.Point{
		{b.Min.X, b.Min.Y},
		{b.Max.X - 1, b.Min.Y},
		{b.Min.X, b.Max.Y - 1},
		{b.Max.X - 1, b.Max.Y - 1},
	}
	var r, g, bl int
	for _, p := range pts {
		c := img.NRGBAAt(p.X, p.Y)
		r += int(c.R)
		g += int(c.G)
		bl += int(c.B)
	}
	n := len(pts)
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(bl / n), A: 0xff}
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.NewError(model.KindIO, fmt.Sprintf("create directory for %s", path), err)
	}
	return nil
}

var _ Processor = (*Local)(nil)
