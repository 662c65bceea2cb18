package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing. By default it generates
// silence (or a sine wave) every BufferDuration; with WithManualFeed it
// only emits chunks passed to Feed.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	starts   int

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64

	manual    bool
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFeed disables generation; chunks come only from Feed.
func WithManualFeed() MockSourceOption {
	return func(m *MockSource) { m.manual = true }
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  closedChunks(),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.starts++
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)

	if !m.manual {
		go m.generateLoop(ctx, m.stopCh)
	}
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Feed(m.generateChunk())
		}
	}
}

// Feed pushes a chunk to readers. It reports false if the source is not
// running or the buffer is full.
func (m *MockSource) Feed(chunk AudioChunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	select {
	case m.streamCh <- chunk:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
		return true
	default:
		m.logger.Debug("mock source: buffer full, dropping chunk")
		return false
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]int16, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < bufferSize; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio generation and closes the stream.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	close(m.streamCh)
	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := m.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel of the current run.
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Starts returns how many times Start began a run.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// MockSink is a mock audio sink for testing. It keeps every chunk written
// so tests can inspect what would have been played.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	written []AudioChunk
	flushes int
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

// Write records an audio chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return io.ErrClosedPipe
	}
	m.written = append(m.written, chunk)
	return nil
}

// Flush ends the current clip.
func (m *MockSink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.running = false
	m.flushes++
	m.mu.Unlock()
	return nil
}

// Written returns every chunk written so far.
func (m *MockSink) Written() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AudioChunk, len(m.written))
	copy(out, m.written)
	return out
}

// Flushes returns how many clips were completed.
func (m *MockSink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.running = false
	m.mu.Unlock()
	return nil
}

var (
	_ Source = (*MockSource)(nil)
	_ Sink   = (*MockSink)(nil)
)
