package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/dunamismax/imagebench/internal/domain"
)

type bildEngine struct {
	imageBuffer
}

func (bildEngine) Name() string { return "bild" }

func (bildEngine) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Grayscale works on premultiplied RGBA, so translucent pixels get the
// luminance of their premultiplied color.
func (bildEngine) Grayscale(img image.Image) (image.Image, error) {
	return adjust.Apply(img, func(c color.RGBA) color.RGBA {
		l := luma(c.R, c.G, c.B)
		return color.RGBA{R: l, G: l, B: l, A: c.A}
	}), nil
}

func (bildEngine) Resize(img image.Image, width, height int) (image.Image, error) {
	return transform.Resize(img, width, height, transform.Lanczos), nil
}

func (bildEngine) Crop(img image.Image, rect domain.Rect) (image.Image, error) {
	return transform.Crop(img, toRectangle(img.Bounds(), rect)), nil
}

func (bildEngine) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imgio.PNGEncoder()(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
