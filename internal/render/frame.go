// Package render decodes artwork, composites it into an optional frame
// overlay, and encodes the result for display.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Frame is a static border image plus the inner rectangle size the artwork
// is resized to. A Frame is immutable after construction and safe for
// concurrent use.
type Frame struct {
	img   image.Image
	inner image.Point
}

// NewFrame wraps img as a frame whose artwork window is innerW x innerH.
func NewFrame(img image.Image, innerW, innerH int) (*Frame, error) {
	if img == nil {
		return nil, errors.New("render: frame image is nil")
	}
	if innerW <= 0 || innerH <= 0 {
		return nil, fmt.Errorf("render: frame inner size %dx%d must be positive", innerW, innerH)
	}
	return &Frame{img: img, inner: image.Pt(innerW, innerH)}, nil
}

// LoadFrame decodes the frame image at path (JPEG or PNG).
func LoadFrame(path string, innerW, innerH int) (*Frame, error) {
	img, _, err := DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("render: load frame: %w", err)
	}
	return NewFrame(img, innerW, innerH)
}

// Size returns the frame image dimensions.
func (f *Frame) Size() image.Point { return f.img.Bounds().Size() }

// Inner returns the size the artwork is resized to.
func (f *Frame) Inner() image.Point { return f.inner }

// Offset returns the top-left corner of the artwork inside the frame,
// ((fw-w)/2, (fh-h)/2) with integer division.
func (f *Frame) Offset() image.Point {
	fs := f.Size()
	return image.Pt((fs.X-f.inner.X)/2, (fs.Y-f.inner.Y)/2)
}

// Compose resizes art to the frame's inner size and draws it centred on a
// copy of the frame image. A nil frame returns art unchanged.
func Compose(art image.Image, f *Frame) image.Image {
	if f == nil {
		return art
	}

	fb := f.img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, fb.Dx(), fb.Dy()))
	draw.Draw(out, out.Bounds(), f.img, fb.Min, draw.Src)

	resized := Resize(art, f.inner.X, f.inner.Y)
	dst := image.Rectangle{Min: f.Offset(), Max: f.Offset().Add(f.inner)}
	draw.Draw(out, dst, resized, image.Point{}, draw.Src)
	return out
}

// Resize scales src to exactly w x h, ignoring aspect ratio.
func Resize(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
