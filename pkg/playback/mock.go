package playback

import (
	"context"
	"sync"
	"time"
)

// Mock implements Player for testing.
type Mock struct {
	// PlayFunc is called when Play is invoked.
	// If nil, Play returns nil immediately.
	PlayFunc func(ctx context.Context, asset string) error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a Play invocation.
type MockCall struct {
	Asset string
	Time  time.Time
}

// NewMock creates a mock player that succeeds instantly.
func NewMock() *Mock {
	return &Mock{}
}

// Play calls PlayFunc and records the call.
func (m *Mock) Play(ctx context.Context, asset string) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Asset: asset, Time: time.Now()})
	m.mu.Unlock()

	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, asset)
	}
	return nil
}

// Assets returns the played asset names in order.
func (m *Mock) Assets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Asset
	}
	return out
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Play calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ Player = (*Mock)(nil)
