package resolver

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMinInterval is the minimum spacing between comparator calls.
const DefaultMinInterval = 500 * time.Millisecond

// Pacer spaces out calls across every caller sharing it. Each Wait reserves
// the next slot on a single-token limiter, so callers queue behind one
// another at least the interval apart. Safe for concurrent use.
type Pacer struct {
	interval time.Duration
	limiter  *rate.Limiter

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a pacer with the given interval (DefaultMinInterval if
// negative). An interval of 0 disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	if interval < 0 {
		interval = DefaultMinInterval
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks until the caller may issue its call, or ctx is done. A
// canceled wait gives its slot back.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("pacer: cannot reserve a slot at interval %v", p.interval)
	}
	if d := r.DelayFrom(now); d > 0 {
		if err := p.sleep(ctx, d); err != nil {
			r.CancelAt(p.now())
			return err
		}
	}
	return nil
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
