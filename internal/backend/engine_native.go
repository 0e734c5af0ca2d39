package backend

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/dunamismax/imagebench/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// nativeEngine uses the standard image packages plus x/image/draw scalers.
type nativeEngine struct {
	imageBuffer
}

func (nativeEngine) Name() string { return "native" }

func (nativeEngine) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func (nativeEngine) Grayscale(img image.Image) (image.Image, error) {
	src := asNRGBA(img)
	dst := image.NewNRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))

	for y := 0; y < dst.Rect.Dy(); y++ {
		srcRow := src.Pix[y*src.Stride : y*src.Stride+dst.Rect.Dx()*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+dst.Rect.Dx()*4]
		for i := 0; i < len(srcRow); i += 4 {
			l := luma(srcRow[i], srcRow[i+1], srcRow[i+2])
			dstRow[i] = l
			dstRow[i+1] = l
			dstRow[i+2] = l
			dstRow[i+3] = srcRow[i+3]
		}
	}
	return dst, nil
}

func (nativeEngine) Resize(img image.Image, width, height int) (image.Image, error) {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

func (nativeEngine) Crop(img image.Image, rect domain.Rect) (image.Image, error) {
	sr := toRectangle(img.Bounds(), rect)
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	draw.Draw(dst, dst.Bounds(), img, sr.Min, draw.Src)
	return dst, nil
}

func (nativeEngine) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// asNRGBA returns img as an origin-anchored NRGBA, copying only when needed.
func asNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
