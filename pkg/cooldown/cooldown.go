// Package cooldown suppresses repeated greetings for the same identity.
package cooldown

import (
	"sync"
	"time"
)

// DefaultWindow is the minimum time between two greetings of one identity.
const DefaultWindow = 180 * time.Second

// Tracker remembers when each display key last triggered a greeting.
// Entries live for the life of the tracker; a key with no entry has never
// triggered. Safe for concurrent use.
type Tracker struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// New returns a tracker with the given window (DefaultWindow if <= 0).
func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Window returns the configured cooldown window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// ShouldTrigger reports whether key may be greeted at now.
func (t *Tracker) ShouldTrigger(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.last[key]
	if !ok {
		return true
	}
	return now.Sub(last) >= t.window
}

// RecordTrigger sets the last trigger time of key to now, overwriting any
// earlier value.
func (t *Tracker) RecordTrigger(key string, now time.Time) {
	t.mu.Lock()
	t.last[key] = now
	t.mu.Unlock()
}

// Remaining returns how long key must still wait, or 0 if it may trigger.
func (t *Tracker) Remaining(key string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.last[key]
	if !ok {
		return 0
	}
	if left := t.window - now.Sub(last); left > 0 {
		return left
	}
	return 0
}
