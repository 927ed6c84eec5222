package video

import (
	"image"
	"math"
)

// Point is a position in frame pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// Box is a bounding box in centre-size form.
type Box struct {
	CX float64
	CY float64
	W  float64
	H  float64
}

// NewBox builds a box from its centre and size.
func NewBox(cx, cy, w, h float64) Box {
	return Box{CX: cx, CY: cy, W: w, H: h}
}

// Left is the lower-x boundary, used as the leading edge for line crossings.
func (b Box) Left() float64 { return b.CX - b.W/2 }

func (b Box) Right() float64 { return b.CX + b.W/2 }

func (b Box) Top() float64 { return b.CY - b.H/2 }

func (b Box) Bottom() float64 { return b.CY + b.H/2 }

// Center returns the box centre.
func (b Box) Center() Point { return Point{X: b.CX, Y: b.CY} }

// Finite reports whether every component is a finite number.
func (b Box) Finite() bool {
	for _, v := range [...]float64{b.CX, b.CY, b.W, b.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ScaleBox maps a box from one frame size to another, e.g. from the
// detection stream to the high resolution stream.
func ScaleBox(b Box, from, to image.Point) Box {
	if from.X <= 0 || from.Y <= 0 {
		return b
	}
	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)
	return Box{CX: b.CX * sx, CY: b.CY * sy, W: b.W * sx, H: b.H * sy}
}

// CropRect converts a box into integer pixel bounds clamped to the frame.
// The result is empty when the box lies entirely outside bounds.
func CropRect(b Box, bounds image.Rectangle) image.Rectangle {
	rect := image.Rect(
		int(b.Left()),
		int(b.Top()),
		int(b.Right()),
		int(b.Bottom()),
	)
	return rect.Intersect(bounds)
}
