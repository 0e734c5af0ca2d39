package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagebench/internal/domain"
)

type imagingEngine struct {
	imageBuffer
}

func (imagingEngine) Name() string { return "imaging" }

func (imagingEngine) Decode(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}

func (imagingEngine) Grayscale(img image.Image) (image.Image, error) {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		l := luma(c.R, c.G, c.B)
		return color.NRGBA{R: l, G: l, B: l, A: c.A}
	}), nil
}

func (imagingEngine) Resize(img image.Image, width, height int) (image.Image, error) {
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

func (imagingEngine) Crop(img image.Image, rect domain.Rect) (image.Image, error) {
	return imaging.Crop(img, toRectangle(img.Bounds(), rect)), nil
}

func (imagingEngine) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
