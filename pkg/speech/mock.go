package speech

import (
	"context"
	"sync"
	"time"
)

var (
	_ Recognizer = (*Mock)(nil)
	_ Stream     = (*MockStream)(nil)
)

// Mock is a Recognizer for tests. Each Listen returns a fresh MockStream;
// ListenFunc may replace that behaviour, for instance to fail.
type Mock struct {
	ListenFunc func(ctx context.Context) (Stream, error)

	mu      sync.Mutex
	streams []*MockStream
}

// NewMock creates a mock recognizer.
func NewMock() *Mock {
	return &Mock{}
}

// Listen opens a MockStream unless ListenFunc is set.
func (m *Mock) Listen(ctx context.Context) (Stream, error) {
	if m.ListenFunc != nil {
		return m.ListenFunc(ctx)
	}
	s := NewMockStream(8)
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

// Streams returns the streams opened so far.
func (m *Mock) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// Last returns the most recently opened stream, or nil.
func (m *Mock) Last() *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.streams) == 0 {
		return nil
	}
	return m.streams[len(m.streams)-1]
}

// MockStream is a Stream driven by Say.
type MockStream struct {
	out chan Utterance

	mu      sync.Mutex
	paused  bool
	closed  bool
	pauses  int
	resumes int
	err     error
}

// NewMockStream creates a stream with the given channel capacity.
func NewMockStream(buffer int) *MockStream {
	return &MockStream{out: make(chan Utterance, buffer)}
}

// Say delivers an utterance as if it had just been recognized. It returns
// false when the stream is paused, closed or full.
func (s *MockStream) Say(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.closed {
		return false
	}
	select {
	case s.out <- Utterance{Text: text, At: time.Now()}:
		return true
	default:
		return false
	}
}

// Fail ends the stream with err.
func (s *MockStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.out)
}

func (s *MockStream) Utterances() <-chan Utterance { return s.out }

func (s *MockStream) Pause() {
	s.mu.Lock()
	s.paused = true
	s.pauses++
	s.mu.Unlock()
}

func (s *MockStream) Resume() {
	s.mu.Lock()
	s.paused = false
	s.resumes++
	s.mu.Unlock()
}

// Paused reports whether the microphone is currently gated.
func (s *MockStream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pauses returns how many times Pause was called.
func (s *MockStream) Pauses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses
}

// Closed reports whether Close or Fail was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
	return nil
}
