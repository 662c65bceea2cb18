package vision

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-concierge/pkg/debug"
	"github.com/teslashibe/go-concierge/pkg/sampler"
)

// Stock cascade files shipped with OpenCV.
const (
	FrontalCascade = "haarcascade_frontalface_alt2.xml"
	ProfileCascade = "haarcascade_profileface.xml"
)

// CascadeConfig holds Haar cascade parameters.
type CascadeConfig struct {
	Path         string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int // smallest face in pixels, both sides
}

// DefaultCascadeConfig returns the stock parameters for path.
func DefaultCascadeConfig(path string) CascadeConfig {
	return CascadeConfig{
		Path:         path,
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      50,
	}
}

// CascadeDetector runs a Haar cascade over the grayscale frame.
type CascadeDetector struct {
	class      sampler.Class
	cfg        CascadeConfig
	classifier gocv.CascadeClassifier
	mu         sync.Mutex
}

var _ sampler.Detector = (*CascadeDetector)(nil)

// NewCascade loads the cascade at cfg.Path.
func NewCascade(class sampler.Class, cfg CascadeConfig) (*CascadeDetector, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("cascade file not found: %s", cfg.Path)
	}
	cc := gocv.NewCascadeClassifier()
	if !cc.Load(cfg.Path) {
		cc.Close()
		return nil, fmt.Errorf("cascade load failed: %s", cfg.Path)
	}
	return &CascadeDetector{class: class, cfg: cfg, classifier: cc}, nil
}

// Class returns the detector variant.
func (d *CascadeDetector) Class() sampler.Class {
	return d.class
}

// Detect returns face boxes in pixel coordinates.
func (d *CascadeDetector) Detect(f sampler.Frame) ([]image.Rectangle, error) {
	vf, err := asFrame(f)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	minSize := image.Pt(d.cfg.MinSize, d.cfg.MinSize)
	rects := d.classifier.DetectMultiScaleWithParams(vf.Gray(), d.cfg.ScaleFactor, d.cfg.MinNeighbors, 0, minSize, image.Point{})
	if len(rects) > 0 {
		debug.DetectLog("👁️  %s cascade found %d face(s)\n", d.class, len(rects))
	}
	return rects, nil
}

// Close releases the classifier.
func (d *CascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.classifier.Close()
}

// YuNetConfig holds FaceDetectorYN parameters.
type YuNetConfig struct {
	ModelPath        string
	ConfidenceThresh float64
	InputWidth       int
	InputHeight      int
}

// DefaultYuNetConfig returns production defaults for the YuNet model.
func DefaultYuNetConfig(path string) YuNetConfig {
	return YuNetConfig{
		ModelPath:        path,
		ConfidenceThresh: 0.5,
		InputWidth:       320,
		InputHeight:      320,
	}
}

// YuNetDetector uses OpenCV's FaceDetectorYN as a frontal detector. It is
// an alternative to the frontal Haar cascade.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex
}

var _ sampler.Detector = (*YuNetDetector)(nil)

// NewYuNet loads the ONNX model at cfg.ModelPath.
func NewYuNet(cfg YuNetConfig) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}
	det := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &YuNetDetector{detector: det}, nil
}

// Class reports frontal.
func (d *YuNetDetector) Class() sampler.Class {
	return sampler.ClassFrontal
}

// Detect returns face boxes in pixel coordinates.
func (d *YuNetDetector) Detect(f sampler.Frame) ([]image.Rectangle, error) {
	vf, err := asFrame(f)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	img := vf.Raw()
	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(img, &faces)

	// Rows are x, y, w, h, five landmark pairs, score.
	rects := make([]image.Rectangle, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		x := int(faces.GetFloatAt(r, 0))
		y := int(faces.GetFloatAt(r, 1))
		w := int(faces.GetFloatAt(r, 2))
		h := int(faces.GetFloatAt(r, 3))
		rects = append(rects, image.Rect(x, y, x+w, y+h))
	}
	if len(rects) > 0 {
		debug.DetectLog("👁️  YuNet found %d face(s)\n", len(rects))
	}
	return rects, nil
}

// Close releases the detector.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
