package comparator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"
)

// Mock implements Comparator for testing.
type Mock struct {
	// CompareFunc is called when Compare is invoked.
	// If nil, every comparison scores 0 with Ret 0 (no match).
	CompareFunc func(ctx context.Context, probe, reference []byte) (Verdict, error)

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Compare invocation.
type MockCall struct {
	Probe     []byte
	Reference []byte
	Time      time.Time
}

// NewMock creates a mock that never matches.
func NewMock() *Mock {
	return &Mock{}
}

// NewMatchingMock creates a mock that scores 1.0 when the reference equals
// want and 0 otherwise. Useful for end-to-end wiring tests.
func NewMatchingMock(want []byte) *Mock {
	return &Mock{
		CompareFunc: func(_ context.Context, _, reference []byte) (Verdict, error) {
			if bytes.Equal(reference, want) {
				return Verdict{Ret: 0, Score: 1}, nil
			}
			return Verdict{Ret: 0, Score: 0.1}, nil
		},
	}
}

// Compare calls CompareFunc and records the call.
func (m *Mock) Compare(ctx context.Context, probe, reference []byte) (Verdict, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		Probe:     probe,
		Reference: reference,
		Time:      time.Now(),
	})
	m.mu.Unlock()

	if m.CompareFunc != nil {
		return m.CompareFunc(ctx, probe, reference)
	}
	return Verdict{}, nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Compare calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	m.calls = nil
	m.mu.Unlock()
}

// ErrMockUnavailable is a convenience failure for CompareFunc.
var ErrMockUnavailable = errors.New("comparator: mock unavailable")

var _ Comparator = (*Mock)(nil)
