package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-concierge/pkg/sampler"
)

// ErrCaptureOpen is returned when the capture device cannot be opened.
var ErrCaptureOpen = errors.New("vision: cannot open capture device")

// Camera reads frames from a device index, file or stream URL.
type Camera struct {
	device string
	cap    *gocv.VideoCapture
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ sampler.FrameSource = (*Camera)(nil)

// OpenCamera opens device. Numeric strings select a camera index.
func OpenCamera(device string, logger *slog.Logger) (*Camera, error) {
	if logger == nil {
		logger = slog.Default()
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrCaptureOpen, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w %q", ErrCaptureOpen, device)
	}
	logger = logger.With("component", "vision.camera", "device", device)
	logger.Info("camera opened",
		"width", vc.Get(gocv.VideoCaptureFrameWidth),
		"height", vc.Get(gocv.VideoCaptureFrameHeight))
	return &Camera{device: device, cap: vc, logger: logger}, nil
}

// Read blocks until the device delivers a frame. A failed or empty read is
// an error; the device is not retried.
func (c *Camera) Read(ctx context.Context) (sampler.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("vision: camera closed")
	}

	mat := gocv.NewMat()
	if ok := c.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("vision: read frame from %q failed", c.device)
	}
	return NewFrame(mat), nil
}

// Close releases the device.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.cap.Close()
}
