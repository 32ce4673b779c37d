// Package thumbnail renders a JPEG preview of a book file.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// ErrNoThumbnail means the file is valid but has nothing to render.
var ErrNoThumbnail = errors.New("no thumbnail available")

type Renderer interface {
	Render(ctx context.Context, data []byte) ([]byte, error)
}

const jpegQuality = 85

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

func isJPEG(b []byte) bool {
	return bytes.HasPrefix(b, jpegMagic)
}

// scaleToWidth keeps the aspect ratio. Images already narrower than width are
// returned unchanged.
func scaleToWidth(src image.Image, width int) image.Image {
	b := src.Bounds()
	if width <= 0 || b.Dx() <= width {
		return src
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
