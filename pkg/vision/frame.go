// Package vision implements the sampler's capture, detection and display
// interfaces on OpenCV.
package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-concierge/pkg/sampler"
)

var (
	boxColor   = color.RGBA{0, 255, 0, 0}
	labelColor = color.RGBA{255, 0, 0, 0}
)

// Frame is one captured BGR image. Crops always come from the raw image;
// annotations go to a lazily cloned view.
type Frame struct {
	raw  gocv.Mat
	view *gocv.Mat
	gray *gocv.Mat
}

var _ sampler.Frame = (*Frame)(nil)

// NewFrame wraps mat. The frame takes ownership and closes it.
func NewFrame(mat gocv.Mat) *Frame {
	return &Frame{raw: mat}
}

// Size returns width and height in pixels.
func (f *Frame) Size() image.Point {
	return image.Pt(f.raw.Cols(), f.raw.Rows())
}

// Gray returns the grayscale image, converting once per frame.
func (f *Frame) Gray() gocv.Mat {
	if f.gray == nil {
		g := gocv.NewMat()
		gocv.CvtColor(f.raw, &g, gocv.ColorBGRToGray)
		f.gray = &g
	}
	return *f.gray
}

// Raw returns the unannotated image.
func (f *Frame) Raw() gocv.Mat {
	return f.raw
}

// View returns the annotated image, or the raw one if nothing was drawn.
func (f *Frame) View() gocv.Mat {
	if f.view != nil {
		return *f.view
	}
	return f.raw
}

// Crop encodes the region r of the raw image as JPEG. r is clipped to the
// frame.
func (f *Frame) Crop(r image.Rectangle) ([]byte, error) {
	r = r.Intersect(image.Rect(0, 0, f.raw.Cols(), f.raw.Rows()))
	if r.Empty() {
		return nil, errors.New("vision: crop outside frame")
	}
	region := f.raw.Region(r)
	defer region.Close()
	return encodeJPEG(region)
}

// Annotate draws the candidate box and its label.
func (f *Frame) Annotate(c sampler.Candidate) {
	if f.view == nil {
		v := f.raw.Clone()
		f.view = &v
	}
	gocv.Rectangle(f.view, c.Box, boxColor, 2)
	org := image.Pt(c.Box.Min.X, max(c.Box.Min.Y-10, 15))
	gocv.PutText(f.view, c.Label(), org, gocv.FontHersheySimplex, 0.6, labelColor, 2)
}

// Encode returns the annotated frame as JPEG.
func (f *Frame) Encode() ([]byte, error) {
	return encodeJPEG(f.View())
}

// Close releases every Mat held by the frame.
func (f *Frame) Close() error {
	if f.view != nil {
		f.view.Close()
		f.view = nil
	}
	if f.gray != nil {
		f.gray.Close()
		f.gray = nil
	}
	return f.raw.Close()
}

func encodeJPEG(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, fmt.Errorf("vision: encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// asFrame recovers the concrete frame behind a sampler.Frame.
func asFrame(f sampler.Frame) (*Frame, error) {
	vf, ok := f.(*Frame)
	if !ok {
		return nil, fmt.Errorf("vision: unsupported frame type %T", f)
	}
	return vf, nil
}
