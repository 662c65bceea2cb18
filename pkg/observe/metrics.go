// Package observe provides the OpenTelemetry metrics for go-concierge.
//
// Instruments are created with [NewMetrics] from any metric.MeterProvider.
// [InitProvider] installs a Prometheus exporter so the same instruments can
// be scraped from /metrics. All recording methods are safe on a nil
// *Metrics, which lets components treat metrics as optional.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/teslashibe/go-concierge"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// Frames counts frames read from the capture source.
	Frames metric.Int64Counter

	// Detections counts candidate regions. Attributes: class, qualified.
	Detections metric.Int64Counter

	// ComparatorCalls counts comparator calls. Attribute: status (ok|error).
	ComparatorCalls metric.Int64Counter

	// ComparatorDuration tracks comparator call latency.
	ComparatorDuration metric.Float64Histogram

	// Resolutions counts finished resolutions. Attribute: result.
	Resolutions metric.Int64Counter

	// Greetings counts orchestrator outcomes. Attribute: outcome.
	Greetings metric.Int64Counter

	// Dialogues counts finished dialogue sessions. Attribute: state.
	Dialogues metric.Int64Counter
}

// latencyBuckets are histogram boundaries (seconds) sized for a remote
// comparison API with a 10s read bound.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("concierge.frames",
		metric.WithDescription("Frames read from the capture source."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("concierge.detections",
		metric.WithDescription("Candidate face regions by detector class and whether they qualified."),
	); err != nil {
		return nil, err
	}
	if met.ComparatorCalls, err = m.Int64Counter("concierge.comparator.calls",
		metric.WithDescription("Identity comparator calls by status."),
	); err != nil {
		return nil, err
	}
	if met.ComparatorDuration, err = m.Float64Histogram("concierge.comparator.duration",
		metric.WithDescription("Latency of identity comparator calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Resolutions, err = m.Int64Counter("concierge.resolutions",
		metric.WithDescription("Identity resolutions by result."),
	); err != nil {
		return nil, err
	}
	if met.Greetings, err = m.Int64Counter("concierge.greetings",
		metric.WithDescription("Greeting orchestrator outcomes."),
	); err != nil {
		return nil, err
	}
	if met.Dialogues, err = m.Int64Counter("concierge.dialogues",
		metric.WithDescription("Dialogue sessions by terminal state."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// FrameRead counts one frame.
func (m *Metrics) FrameRead(ctx context.Context) {
	if m == nil {
		return
	}
	m.Frames.Add(ctx, 1)
}

// Detection counts one candidate region.
func (m *Metrics) Detection(ctx context.Context, class string, qualified bool) {
	if m == nil {
		return
	}
	m.Detections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.Bool("qualified", qualified),
	))
}

// ComparatorCall records one comparator call and its latency.
func (m *Metrics) ComparatorCall(ctx context.Context, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.ComparatorCalls.Add(ctx, 1, attrs)
	m.ComparatorDuration.Record(ctx, d.Seconds(), attrs)
}

// Resolution counts one finished resolution.
func (m *Metrics) Resolution(ctx context.Context, matched bool) {
	if m == nil {
		return
	}
	result := "unmatched"
	if matched {
		result = "matched"
	}
	m.Resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Greeting counts one orchestrator outcome.
func (m *Metrics) Greeting(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Greetings.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Dialogue counts one finished dialogue session.
func (m *Metrics) Dialogue(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.Dialogues.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
