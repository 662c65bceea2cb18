// Package greeter sequences what happens after a face is resolved: the
// cooldown check, the identity greeting and, for guests, the dialogue.
package greeter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-concierge/pkg/cooldown"
	"github.com/teslashibe/go-concierge/pkg/dialogue"
	"github.com/teslashibe/go-concierge/pkg/identity"
	"github.com/teslashibe/go-concierge/pkg/observe"
	"github.com/teslashibe/go-concierge/pkg/playback"
)

// Outcome classifies one orchestration.
type Outcome string

const (
	OutcomeCoolingDown     Outcome = "cooling_down"
	OutcomeUnknownIdentity Outcome = "unknown_identity"
	OutcomeMisconfigured   Outcome = "misconfigured"
	OutcomePlaybackFailed  Outcome = "playback_failed"
	OutcomeOwnerGreeted    Outcome = "owner_greeted"
	OutcomeGuestDialogue   Outcome = "guest_dialogue"
	OutcomeUnknownKind     Outcome = "unknown_kind"
)

// Greeted reports whether the greeting was played.
func (o Outcome) Greeted() bool {
	switch o {
	case OutcomeOwnerGreeted, OutcomeGuestDialogue, OutcomeUnknownKind:
		return true
	}
	return false
}

// Conversation runs one blocking dialogue session.
type Conversation interface {
	Run(ctx context.Context) dialogue.Outcome
}

// Result describes one orchestration.
type Result struct {
	Outcome  Outcome
	Record   identity.Record
	Dialogue *dialogue.Outcome // set for guests only
	Err      error
}

// Greeter orchestrates greetings. It is used from a single goroutine.
type Greeter struct {
	store    *identity.Store
	tracker  *cooldown.Tracker
	player   playback.Player
	dialogue Conversation

	now     func() time.Time
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option configures a Greeter.
type Option func(*Greeter)

// WithClock replaces time.Now for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(g *Greeter) { g.now = now }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Greeter) { g.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Greeter) { g.logger = l }
}

// New creates a greeter. conv may be nil when no microphone is available;
// guests are then greeted without a dialogue.
func New(store *identity.Store, tracker *cooldown.Tracker, player playback.Player, conv Conversation, opts ...Option) *Greeter {
	g := &Greeter{
		store:    store,
		tracker:  tracker,
		player:   player,
		dialogue: conv,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "greeter")
	return g
}

// Greet runs the post-resolution sequence for displayKey and blocks until
// the greeting and any dialogue have finished.
func (g *Greeter) Greet(ctx context.Context, displayKey string) Result {
	res := g.greet(ctx, displayKey)
	g.metrics.Greeting(ctx, string(res.Outcome))
	return res
}

func (g *Greeter) greet(ctx context.Context, key string) Result {
	logger := g.logger.With("key", key)

	if !g.tracker.ShouldTrigger(key, g.now()) {
		logger.Debug("in cooldown", "remaining", g.tracker.Remaining(key, g.now()))
		return Result{Outcome: OutcomeCoolingDown}
	}

	rec, err := g.store.Lookup(key)
	if err != nil {
		logger.Warn("resolved key not in identity store")
		return Result{Outcome: OutcomeUnknownIdentity, Err: err}
	}
	res := Result{Record: rec}

	if rec.GreetingAudio == "" {
		logger.Error("identity has no greeting audio")
		res.Outcome = OutcomeMisconfigured
		res.Err = fmt.Errorf("greeter: %s has no greeting audio", key)
		return res
	}

	fmt.Printf("👋 Greeting %s (%s)\n", key, rec.Kind)
	if err := g.player.Play(ctx, rec.GreetingAudio); err != nil {
		// A failed greeting still opens the cooldown window.
		g.tracker.RecordTrigger(key, g.now())
		res.Err = err
		if errors.Is(err, playback.ErrAssetNotFound) {
			logger.Error("greeting asset missing", "asset", rec.GreetingAudio)
			res.Outcome = OutcomeMisconfigured
			return res
		}
		logger.Error("greeting playback failed", "error", err)
		res.Outcome = OutcomePlaybackFailed
		return res
	}
	g.tracker.RecordTrigger(key, g.now())

	switch rec.Kind {
	case identity.KindOwner:
		logger.Info("owner greeted")
		res.Outcome = OutcomeOwnerGreeted
	case identity.KindGuest:
		res.Outcome = OutcomeGuestDialogue
		if g.dialogue == nil {
			logger.Warn("guest greeted without dialogue")
			return res
		}
		out := g.dialogue.Run(ctx)
		res.Dialogue = &out
	default:
		logger.Warn("unknown identity kind", "kind", rec.Kind)
		res.Outcome = OutcomeUnknownKind
	}
	return res
}
