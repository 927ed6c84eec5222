package video

import (
	"fmt"
	"image"
	"time"
)

// BytesPerPixel is the sample size of the bgr24 pixel format produced by the decoder.
const BytesPerPixel = 3

// Frame is one decoded picture in bgr24 layout.
type Frame struct {
	// Seq is the capture-local sequence number. It is unrelated to the
	// logical frame id minted by the tracking ledger.
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Data       []byte
	Source     string
}

// FrameSize returns the byte length of a bgr24 frame with the given dimensions.
func FrameSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return width * height * BytesPerPixel
}

// Validate reports whether the pixel buffer matches the declared dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("frame dimensions %dx%d are invalid", f.Width, f.Height)
	}
	if want := FrameSize(f.Width, f.Height); len(f.Data) != want {
		return fmt.Errorf("frame buffer has %d bytes, want %d", len(f.Data), want)
	}
	return nil
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Data) == 0
}

// Bounds returns the pixel rectangle covered by the frame.
func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Image converts the bgr24 buffer into an RGBA image.
func (f Frame) Image() (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(f.Bounds())
	src := f.Data
	dst := img.Pix
	for i, j := 0, 0; i+2 < len(src); i, j = i+BytesPerPixel, j+4 {
		dst[j] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i]
		dst[j+3] = 0xff
	}
	return img, nil
}

// FromImage builds a bgr24 frame from an arbitrary image. It is mainly used by
// tests and tooling that synthesize frames.
func FromImage(img image.Image) Frame {
	b := img.Bounds()
	frame := Frame{
		Width:  b.Dx(),
		Height: b.Dy(),
		Data:   make([]byte, FrameSize(b.Dx(), b.Dy())),
	}
	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			frame.Data[idx] = byte(bl >> 8)
			frame.Data[idx+1] = byte(g >> 8)
			frame.Data[idx+2] = byte(r >> 8)
			idx += BytesPerPixel
		}
	}
	return frame
}
