package video

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// DefaultJPEGQuality matches the encoder default most vision APIs expect.
const DefaultJPEGQuality = 90

// Crop copies the given region of the frame into a new RGBA image.
func Crop(frame Frame, rect image.Rectangle) (*image.RGBA, error) {
	rect = rect.Intersect(frame.Bounds())
	if rect.Empty() {
		return nil, errors.New("crop region is empty")
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	stride := frame.Width * BytesPerPixel
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := frame.Data[y*stride : (y+1)*stride]
		dst := out.Pix[(y-rect.Min.Y)*out.Stride:]
		for x := rect.Min.X; x < rect.Max.X; x++ {
			i := x * BytesPerPixel
			j := (x - rect.Min.X) * 4
			dst[j] = row[i+2]
			dst[j+1] = row[i+1]
			dst[j+2] = row[i]
			dst[j+3] = 0xff
		}
	}
	return out, nil
}

// EncodeJPEG encodes img at the requested quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.New("encode jpeg: nil image")
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// UpscaleToWidth enlarges img so it is at least minWidth pixels wide while
// keeping its aspect ratio. Images that are already wide enough are returned
// unchanged.
func UpscaleToWidth(img image.Image, minWidth int) image.Image {
	if img == nil || minWidth <= 0 {
		return img
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dx() >= minWidth {
		return img
	}
	height := b.Dy() * minWidth / b.Dx()
	if height <= 0 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, minWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
