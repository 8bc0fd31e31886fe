package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"storyscene/internal/model"
)

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, model.NewError(model.KindNotFound, fmt.Sprintf("image not found: %s", path), nil)
		}
		return nil, model.NewError(model.KindIO, fmt.Sprintf("open image %s", path), err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, model.NewError(model.KindProviderError, fmt.Sprintf("decode image %s", path), err)
	}
	return img, nil
}

// SavePNG 先写临时文件再重命名，失败时目标路径保持原样
func SavePNG(path string, img image.Image) error {
	if err := ensureParent(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return model.NewError(model.KindIO, fmt.Sprintf("create %s", path), err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return model.NewError(model.KindIO, fmt.Sprintf("encode %s", path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return model.NewError(model.KindIO, fmt.Sprintf("close %s", path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return model.NewError(model.KindIO, fmt.Sprintf("rename %s", path), err)
	}
	return nil
}

// Thumbnail 生成不超过maxSize的PNG缩略图
func Thumbnail(path string, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = ThumbnailSize
	}
	src, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxSize || h > maxSize {
		if w >= h {
			h = max(1, h*maxSize/w)
			w = maxSize
		} else {
			w = max(1, w*maxSize/h)
			h = maxSize
		}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Dimensions 读取图片尺寸
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
