package backend

import (
	"image"
	"math"

	"github.com/dunamismax/imagebench/internal/domain"
)

// Luminance weights applied to R, G and B by every engine.
const (
	LumaR = 0.21
	LumaG = 0.72
	LumaB = 0.07
)

// Engine wraps one pixel library. B is the library's native buffer type.
// Resize receives dimensions already clamped to at least 1 and Crop receives a
// rectangle already checked against Size. Operations may modify their input in
// place and return it, so callers only keep and release the latest buffer.
// Release must tolerate being called more than once on the same buffer.
type Engine[B any] interface {
	Name() string
	Decode(data []byte) (B, error)
	Grayscale(buf B) (B, error)
	Resize(buf B, width, height int) (B, error)
	Crop(buf B, rect domain.Rect) (B, error)
	Encode(buf B) ([]byte, error)
	Size(buf B) (width, height int)
	Release(buf B)
	FromImage(img image.Image) (B, error)
	ToImage(buf B) (image.Image, error)
}

func luma(r, g, b uint8) uint8 {
	l := math.Round(LumaR*float64(r) + LumaG*float64(g) + LumaB*float64(b))
	if l > 255 {
		return 255
	}
	return uint8(l)
}

// imageBuffer holds the buffer plumbing shared by engines working on image.Image.
type imageBuffer struct{}

func (imageBuffer) Size(img image.Image) (int, int) {
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func (imageBuffer) Release(image.Image) {}

func (imageBuffer) FromImage(img image.Image) (image.Image, error) {
	return img, nil
}

func (imageBuffer) ToImage(img image.Image) (image.Image, error) {
	return img, nil
}

// toRectangle maps rect, given relative to the image origin, into bounds.
func toRectangle(bounds image.Rectangle, rect domain.Rect) image.Rectangle {
	origin := bounds.Min.Add(image.Pt(rect.X, rect.Y))
	return image.Rectangle{Min: origin, Max: origin.Add(image.Pt(rect.Width, rect.Height))}
}
