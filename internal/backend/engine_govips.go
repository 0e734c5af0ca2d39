//go:build govips && cgo

package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imagebench/internal/domain"
)

// vipsEngine drives libvips through govips. Every operation mutates the
// ImageRef in place.
type vipsEngine struct{}

func (vipsEngine) Name() string { return "vips" }

func (vipsEngine) Decode(data []byte) (*vips.ImageRef, error) {
	return vips.NewImageFromBuffer(data)
}

func (vipsEngine) Grayscale(img *vips.ImageRef) (*vips.ImageRef, error) {
	if img.Bands() < 3 {
		return img, nil
	}
	if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return img, fmt.Errorf("convert to srgb: %w", err)
	}

	weights := []float64{LumaR, LumaG, LumaB}
	matrix := [][]float64{weights, weights, weights}
	scale := []float64{1, 1, 1}
	offset := []float64{0.5, 0.5, 0.5}
	if img.HasAlpha() {
		for i := range matrix {
			matrix[i] = append(append([]float64(nil), weights...), 0)
		}
		matrix = append(matrix, []float64{0, 0, 0, 1})
		scale = append(scale, 1)
		offset = append(offset, 0)
	}

	if err := img.Recomb(matrix); err != nil {
		return img, fmt.Errorf("recombine bands: %w", err)
	}
	// Recomb yields floats; the half offset makes the uchar cast round.
	if err := img.Linear(scale, offset); err != nil {
		return img, fmt.Errorf("offset bands: %w", err)
	}
	if err := img.Cast(vips.BandFormatUchar); err != nil {
		return img, fmt.Errorf("cast bands: %w", err)
	}
	return img, nil
}

func (vipsEngine) Resize(img *vips.ImageRef, width, height int) (*vips.ImageRef, error) {
	if err := img.ThumbnailWithSize(width, height, vips.InterestingNone, vips.SizeForce); err != nil {
		return img, fmt.Errorf("resize image: %w", err)
	}
	return img, nil
}

func (vipsEngine) Crop(img *vips.ImageRef, rect domain.Rect) (*vips.ImageRef, error) {
	if err := img.ExtractArea(rect.X, rect.Y, rect.Width, rect.Height); err != nil {
		return img, fmt.Errorf("extract area: %w", err)
	}
	return img, nil
}

func (vipsEngine) Encode(img *vips.ImageRef) ([]byte, error) {
	data, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return data, nil
}

func (vipsEngine) Size(img *vips.ImageRef) (int, int) {
	return img.Width(), img.Height()
}

func (vipsEngine) Release(img *vips.ImageRef) {
	if img != nil {
		img.Close()
	}
}

func (e vipsEngine) FromImage(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return e.Decode(buf.Bytes())
}

func (e vipsEngine) ToImage(img *vips.ImageRef) (image.Image, error) {
	data, err := e.Encode(img)
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(data))
}
