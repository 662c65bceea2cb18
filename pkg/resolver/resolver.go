// Package resolver maps a face crop to a registered identity.
//
// Records are probed in store order. Each probe is one comparator call
// wrapped in a bounded retry with linear backoff, and every call goes
// through a shared Pacer. The first record whose verdict clears the
// threshold wins; later records are not probed.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/teslashibe/go-concierge/pkg/comparator"
	"github.com/teslashibe/go-concierge/pkg/debug"
	"github.com/teslashibe/go-concierge/pkg/identity"
	"github.com/teslashibe/go-concierge/pkg/observe"
)

// Defaults for the retry policy.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 2 * time.Second
)

// Config holds resolver configuration.
type Config struct {
	Threshold   float64       // verdict score must exceed this
	MaxAttempts int           // comparator attempts per record
	BackoffStep time.Duration // wait after failed attempt n is n*BackoffStep

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Option is a functional option for configuring the resolver.
type Option func(*Config)

// WithThreshold sets the match threshold.
func WithThreshold(t float64) Option {
	return func(c *Config) { c.Threshold = t }
}

// WithRetry sets the attempts per record and the backoff step.
func WithRetry(maxAttempts int, step time.Duration) Option {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.BackoffStep = step
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the default retry policy and threshold.
func DefaultConfig() *Config {
	return &Config{
		Threshold:   comparator.DefaultThreshold,
		MaxAttempts: DefaultMaxAttempts,
		BackoffStep: DefaultBackoffStep,
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Result is the outcome of resolving one crop.
type Result struct {
	Matched bool
	Record  identity.Record // zero unless Matched
	Score   float64
	Calls   int // comparator calls made
}

// Resolver resolves face crops against an identity store. It never
// modifies the store.
type Resolver struct {
	store  *identity.Store
	cmp    comparator.Comparator
	pacer  *Pacer
	config *Config
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a resolver. pacer may be shared with other resolvers; nil
// gets a private pacer with DefaultMinInterval.
func New(store *identity.Store, cmp comparator.Comparator, pacer *Pacer, opts ...Option) *Resolver {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if pacer == nil {
		pacer = NewPacer(DefaultMinInterval)
	}
	return &Resolver{
		store:  store,
		cmp:    cmp,
		pacer:  pacer,
		config: cfg,
		logger: cfg.Logger.With("component", "resolver"),
		sleep:  sleepCtx,
	}
}

// Resolve probes each record with crop and returns the first match. A
// record that keeps failing is treated as not matched. The only error is
// ctx ending.
func (r *Resolver) Resolve(ctx context.Context, crop []byte) (Result, error) {
	var res Result
	for _, rec := range r.store.Records() {
		ref, err := r.store.ReferenceImage(rec)
		if err != nil {
			r.logger.Warn("reference image unavailable, skipping", "key", rec.DisplayKey, "error", err)
			continue
		}

		v, calls, err := r.probe(ctx, rec, crop, ref)
		res.Calls += calls
		if err != nil {
			return res, err
		}
		if v.Matches(r.config.Threshold) {
			r.logger.Info("identity matched", "key", rec.DisplayKey, "kind", rec.Kind, "score", v.Score)
			r.config.Metrics.Resolution(ctx, true)
			res.Matched = true
			res.Record = rec
			res.Score = v.Score
			return res, nil
		}
		r.logger.Debug("no match", "key", rec.DisplayKey, "ret", v.Ret, "score", v.Score)
	}

	r.config.Metrics.Resolution(ctx, false)
	return res, nil
}

// probe runs up to MaxAttempts comparator calls for one record. A call
// that returns a verdict ends the probe; a failure is retried after
// attempt*BackoffStep. Exhausted retries yield the zero verdict.
func (r *Resolver) probe(ctx context.Context, rec identity.Record, crop, ref []byte) (comparator.Verdict, int, error) {
	calls := 0
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.pacer.Wait(ctx); err != nil {
			return comparator.Verdict{}, calls, err
		}

		start := time.Now()
		v, err := r.cmp.Compare(ctx, crop, ref)
		calls++
		if err == nil {
			r.config.Metrics.ComparatorCall(ctx, "ok", time.Since(start))
			debug.Log("🔁 %s: ret=%d score=%.2f (%s)\n", rec.DisplayKey, v.Ret, v.Score, time.Since(start).Round(time.Millisecond))
			return v, calls, nil
		}
		r.config.Metrics.ComparatorCall(ctx, "error", time.Since(start))
		if ctx.Err() != nil {
			return comparator.Verdict{}, calls, ctx.Err()
		}

		if attempt == r.config.MaxAttempts {
			r.logger.Warn("comparator failed, giving up on record",
				"key", rec.DisplayKey,
				"attempts", attempt,
				"error", err,
			)
			break
		}
		wait := time.Duration(attempt) * r.config.BackoffStep
		r.logger.Warn("comparator failed, retrying",
			"key", rec.DisplayKey,
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		if err := r.sleep(ctx, wait); err != nil {
			return comparator.Verdict{}, calls, err
		}
	}
	return comparator.Verdict{}, calls, nil
}
