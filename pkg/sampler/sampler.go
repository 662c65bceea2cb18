// Package sampler turns a live frame stream into a bounded stream of face
// crops for identity resolution.
//
// Only every Nth frame is run through the detectors. Each qualifying region
// is annotated, saved, and resolved while the loop waits; the first region
// that resolves ends the loop.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/teslashibe/go-concierge/pkg/observe"
	"github.com/teslashibe/go-concierge/pkg/resolver"
)

// ErrSourceExhausted wraps the read failure that ended the loop.
var ErrSourceExhausted = errors.New("sampler: frame source exhausted")

// Class is the detector variant that produced a region.
type Class string

const (
	ClassFrontal Class = "frontal"
	ClassProfile Class = "profile"
)

// Candidate is one detected region.
type Candidate struct {
	Box        image.Rectangle
	Class      Class
	Confidence float64 // box area over frame area
}

// Label is the annotation text, e.g. "frontal:7.3%".
func (c Candidate) Label() string {
	return fmt.Sprintf("%s:%.1f%%", c.Class, c.Confidence*100)
}

// Frame is one captured image. The loop closes every frame it reads.
type Frame interface {
	Size() image.Point
	Crop(r image.Rectangle) ([]byte, error) // JPEG of the region
	Annotate(c Candidate)
	Encode() ([]byte, error) // JPEG of the whole (annotated) frame
	Close() error
}

// FrameSource yields frames until it fails or runs out.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
}

// Detector finds face regions in a frame.
type Detector interface {
	Class() Class
	Detect(f Frame) ([]image.Rectangle, error)
}

// CropStore persists face crops keyed by capture time.
type CropStore interface {
	Save(at time.Time, jpeg []byte) (string, error)
}

// Resolver maps a crop to a registered identity.
type Resolver interface {
	Resolve(ctx context.Context, crop []byte) (resolver.Result, error)
}

// Display shows frames to an operator. Show reports true when the operator
// asked to quit.
type Display interface {
	Show(f Frame) bool
}

// Detection is one qualifying region after resolution.
type Detection struct {
	Candidate
	At       time.Time
	CropPath string
	Result   resolver.Result
}

// Hooks observe the loop. Every field is optional.
type Hooks struct {
	OnSampled   func(f Frame)     // sampled frame, after annotation
	OnResolving func(c Candidate) // before a crop is resolved
	OnDetection func(d Detection) // after a crop is resolved
}

// Defaults for sampling.
const (
	DefaultInterval      = 30
	DefaultMinConfidence = 0.05
	DefaultMinSize       = 50
)

// Config holds sampling loop configuration.
type Config struct {
	Interval      int     // run detection on every Interval-th frame
	MinConfidence float64 // area ratio must exceed this
	MinSize       int     // region width and height must reach this

	Hooks   Hooks
	Display Display
	Metrics *observe.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Option is a functional option for configuring the loop.
type Option func(*Config)

// WithInterval sets the sampling interval in frames.
func WithInterval(n int) Option {
	return func(c *Config) { c.Interval = n }
}

// WithThresholds sets the qualifying confidence and pixel size.
func WithThresholds(minConfidence float64, minSize int) Option {
	return func(c *Config) {
		c.MinConfidence = minConfidence
		c.MinSize = minSize
	}
}

// WithHooks sets observation hooks.
func WithHooks(h Hooks) Option {
	return func(c *Config) { c.Hooks = h }
}

// WithDisplay shows every frame on d.
func WithDisplay(d Display) Option {
	return func(c *Config) { c.Display = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the stock sampling settings.
func DefaultConfig() *Config {
	return &Config{
		Interval:      DefaultInterval,
		MinConfidence: DefaultMinConfidence,
		MinSize:       DefaultMinSize,
		Logger:        slog.Default(),
		Now:           time.Now,
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// ExitReason says why Run returned.
type ExitReason string

const (
	ExitMatched   ExitReason = "matched"
	ExitStopped   ExitReason = "stopped"
	ExitExhausted ExitReason = "exhausted"
)

// Result summarises one Run.
type Result struct {
	Reason  ExitReason
	Match   *Detection // set when Reason is ExitMatched
	Frames  int
	Sampled int
}

// Loop is the detection sampling loop.
type Loop struct {
	source    FrameSource
	detectors []Detector
	crops     CropStore
	resolver  Resolver
	config    *Config
	logger    *slog.Logger
}

// New creates a loop. Detectors run in the given order on each sampled
// frame.
func New(source FrameSource, detectors []Detector, crops CropStore, res Resolver, opts ...Option) *Loop {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Interval < 1 {
		cfg.Interval = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{
		source:    source,
		detectors: detectors,
		crops:     crops,
		resolver:  res,
		config:    cfg,
		logger:    cfg.Logger.With("component", "sampler"),
	}
}

// Run reads frames until a region resolves, ctx is cancelled, the operator
// quits, or a read fails. Cancellation is observed between frames and
// between regions; a resolution in flight always completes. A read failure
// is returned wrapped in ErrSourceExhausted.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	var res Result
	for {
		if ctx.Err() != nil {
			res.Reason = ExitStopped
			return res, nil
		}

		frame, err := l.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				res.Reason = ExitStopped
				return res, nil
			}
			res.Reason = ExitExhausted
			return res, fmt.Errorf("%w: %v", ErrSourceExhausted, err)
		}
		res.Frames++
		l.config.Metrics.FrameRead(ctx)

		var match *Detection
		stopped := false
		if res.Frames%l.config.Interval == 0 {
			res.Sampled++
			match, stopped = l.sample(ctx, frame, l.config.Now())
		}

		quit := l.config.Display != nil && l.config.Display.Show(frame)
		frame.Close()

		switch {
		case match != nil:
			res.Reason = ExitMatched
			res.Match = match
			return res, nil
		case stopped || quit:
			if quit {
				l.logger.Info("operator quit")
			}
			res.Reason = ExitStopped
			return res, nil
		}
	}
}

// sample runs every detector over frame and resolves qualifying regions.
// Every detection from the frame carries its capture time at.
func (l *Loop) sample(ctx context.Context, frame Frame, at time.Time) (*Detection, bool) {
	size := frame.Size()
	frameArea := float64(size.X * size.Y)

	var candidates []Candidate
	for _, det := range l.detectors {
		boxes, err := det.Detect(frame)
		if err != nil {
			l.logger.Warn("detector failed", "class", det.Class(), "error", err)
			continue
		}
		for _, box := range boxes {
			c := Candidate{Box: box, Class: det.Class()}
			if frameArea > 0 {
				c.Confidence = float64(box.Dx()*box.Dy()) / frameArea
			}
			qualified := c.Confidence > l.config.MinConfidence &&
				box.Dx() >= l.config.MinSize && box.Dy() >= l.config.MinSize
			l.config.Metrics.Detection(ctx, string(c.Class), qualified)
			if !qualified {
				l.logger.Debug("region below threshold", "class", c.Class, "confidence", c.Confidence, "w", box.Dx(), "h", box.Dy())
				continue
			}
			frame.Annotate(c)
			candidates = append(candidates, c)
		}
	}
	if l.config.Hooks.OnSampled != nil {
		l.config.Hooks.OnSampled(frame)
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return nil, true
		}
		d := l.resolve(ctx, frame, c, at)
		if d != nil && d.Result.Matched {
			return d, false
		}
	}
	return nil, false
}

func (l *Loop) resolve(ctx context.Context, frame Frame, c Candidate, at time.Time) *Detection {
	d := Detection{Candidate: c, At: at}

	crop, err := frame.Crop(c.Box)
	if err != nil {
		l.logger.Warn("crop failed", "class", c.Class, "error", err)
		return nil
	}
	if l.crops != nil {
		if d.CropPath, err = l.crops.Save(d.At, crop); err != nil {
			l.logger.Warn("save crop", "error", err)
		}
	}

	if l.config.Hooks.OnResolving != nil {
		l.config.Hooks.OnResolving(c)
	}
	fmt.Printf("🔍 Face %s, resolving...\n", c.Label())

	d.Result, err = l.resolver.Resolve(context.WithoutCancel(ctx), crop)
	if err != nil {
		l.logger.Warn("resolve failed", "error", err)
	}
	if d.Result.Matched {
		l.logger.Info("face resolved", "key", d.Result.Record.DisplayKey, "score", d.Result.Score, "class", c.Class)
	} else {
		l.logger.Info("face not recognized", "class", c.Class, "confidence", c.Confidence, "calls", d.Result.Calls)
	}

	if l.config.Hooks.OnDetection != nil {
		l.config.Hooks.OnDetection(d)
	}
	return &d
}
