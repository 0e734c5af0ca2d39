package domain

import (
	"fmt"
	"strings"
)

const (
	OperationGrayscale = "grayscale"
	OperationResize    = "resize"
	OperationCrop      = "crop"
	OperationComposite = "composite"
)

// Operation is one of Grayscale, Resize, Crop or Composite. The set is closed.
type Operation interface {
	Kind() string
	operation()
}

type Grayscale struct{}

type Resize struct {
	Width  int
	Height int
}

type Crop struct {
	Rect Rect
}

// Composite runs grayscale, then resize, then crop. Crop coordinates are
// interpreted in the resized image's space.
type Composite struct {
	Width  int
	Height int
	Crop   Rect
}

func (Grayscale) Kind() string { return OperationGrayscale }
func (Resize) Kind() string    { return OperationResize }
func (Crop) Kind() string      { return OperationCrop }
func (Composite) Kind() string { return OperationComposite }

func (Grayscale) operation() {}
func (Resize) operation()    {}
func (Crop) operation()      {}
func (Composite) operation() {}

// DefaultComposite mirrors the multi-modification endpoint defaults.
func DefaultComposite() Composite {
	return Composite{
		Width:  512,
		Height: 512,
		Crop:   Rect{X: 100, Y: 100, Width: 300, Height: 300},
	}
}

// DerivedPrefix returns the naming prefix for results of op.
func DerivedPrefix(op Operation) string {
	switch op.(type) {
	case Grayscale:
		return PrefixGrayscale
	case Resize:
		return PrefixResized
	case Crop:
		return PrefixCropped
	case Composite:
		return PrefixModified
	default:
		return ""
	}
}

// OperationSpec is the wire form of an Operation.
type OperationSpec struct {
	Kind       string `json:"kind" validate:"required,oneof=grayscale resize crop composite"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	X          int    `json:"x,omitempty"`
	Y          int    `json:"y,omitempty"`
	CropWidth  int    `json:"crop_width,omitempty"`
	CropHeight int    `json:"crop_height,omitempty"`
}

func (s OperationSpec) Operation() (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case OperationGrayscale:
		return Grayscale{}, nil
	case OperationResize:
		return Resize{Width: s.Width, Height: s.Height}, nil
	case OperationCrop:
		return Crop{Rect: Rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}}, nil
	case OperationComposite:
		return Composite{
			Width:  s.Width,
			Height: s.Height,
			Crop:   Rect{X: s.X, Y: s.Y, Width: s.CropWidth, Height: s.CropHeight},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported operation kind: %q", s.Kind)
	}
}

// SpecFor converts op back to its wire form.
func SpecFor(op Operation) OperationSpec {
	switch o := op.(type) {
	case Resize:
		return OperationSpec{Kind: OperationResize, Width: o.Width, Height: o.Height}
	case Crop:
		return OperationSpec{Kind: OperationCrop, X: o.Rect.X, Y: o.Rect.Y, Width: o.Rect.Width, Height: o.Rect.Height}
	case Composite:
		return OperationSpec{
			Kind:       OperationComposite,
			Width:      o.Width,
			Height:     o.Height,
			X:          o.Crop.X,
			Y:          o.Crop.Y,
			CropWidth:  o.Crop.Width,
			CropHeight: o.Crop.Height,
		}
	default:
		return OperationSpec{Kind: OperationGrayscale}
	}
}
