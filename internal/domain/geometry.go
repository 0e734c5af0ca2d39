package domain

import "fmt"

// Rect is a crop rectangle in source-pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultMaxPixels caps decoded and resized images. At four bytes per pixel
// this is 400 MB for one buffer.
const DefaultMaxPixels int64 = 100_000_000

// CheckPixels rejects a width x height image larger than limit pixels.
// A non-positive limit selects DefaultMaxPixels.
func CheckPixels(width, height int, limit int64) error {
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if width < 1 || height < 1 {
		return nil
	}
	if int64(width) > limit || int64(height) > limit/int64(width) {
		return fmt.Errorf("%w: %dx%d is over the %d pixel limit", ErrImageTooLarge, width, height, limit)
	}
	return nil
}

// ClampDimension returns v, or 1 when v is degenerate.
func ClampDimension(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// Normalize clamps Width and Height to at least 1. The origin is left untouched.
func (r Rect) Normalize() Rect {
	r.Width = ClampDimension(r.Width)
	r.Height = ClampDimension(r.Height)
	return r
}

// Within reports whether r lies fully inside a width x height buffer anchored at the origin.
// The comparisons avoid X+Width so that huge offsets cannot wrap past the check.
func (r Rect) Within(width, height int) error {
	if r.X < 0 || r.Y < 0 || r.Width < 0 || r.Height < 0 ||
		r.Width > width || r.Height > height ||
		r.X > width-r.Width || r.Y > height-r.Height {
		return fmt.Errorf(
			"%w: crop rectangle x=%d y=%d width=%d height=%d exceeds %dx%d image",
			ErrGeometryOutOfBounds, r.X, r.Y, r.Width, r.Height, width, height,
		)
	}
	return nil
}
