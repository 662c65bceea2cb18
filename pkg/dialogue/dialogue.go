// Package dialogue runs the short spoken exchange that follows a guest
// greeting.
//
// A session asks what the guest needs, then listens until an utterance
// contains a known keyword or the deadline passes. Each unmatched utterance
// plays a "didn't understand" prompt and re-arms the deadline. The
// microphone is gated for the length of every prompt.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-concierge/pkg/observe"
	"github.com/teslashibe/go-concierge/pkg/playback"
	"github.com/teslashibe/go-concierge/pkg/speech"
)

// State is a dialogue state.
type State string

const (
	StateAsking       State = "asking"
	StateListening    State = "listening"
	StateNoMatchRetry State = "no_match_retry"
	StateMatched      State = "matched"
	StateTimeout      State = "timeout"
	StateAborted      State = "aborted"
)

// Terminal reports whether the session ends in s.
func (s State) Terminal() bool {
	switch s {
	case StateMatched, StateTimeout, StateAborted:
		return true
	}
	return false
}

// Defaults for a session.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultSettle      = 500 * time.Millisecond
	DefaultAskPrompt   = "ask.mp3"
	DefaultRetryPrompt = "answer.mp3"
)

// ResultWriter persists the matched keyword for an external consumer.
type ResultWriter interface {
	Write(value string) error
}

// Config holds dialogue configuration.
type Config struct {
	Timeout     time.Duration // inactivity deadline, re-armed after each retry prompt
	Settle      time.Duration // pause after the ask prompt before listening
	AskPrompt   string
	RetryPrompt string
	Keywords    KeywordTable

	// OnState, if set, is called on every state transition.
	OnState func(State)

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Option is a functional option for configuring a dialogue.
type Option func(*Config)

// WithTimeout sets the listening deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithSettle sets the pause after the ask prompt.
func WithSettle(d time.Duration) Option {
	return func(c *Config) { c.Settle = d }
}

// WithPrompts sets the ask and retry prompt assets.
func WithPrompts(ask, retry string) Option {
	return func(c *Config) {
		c.AskPrompt = ask
		c.RetryPrompt = retry
	}
}

// WithKeywords replaces the keyword table.
func WithKeywords(t KeywordTable) Option {
	return func(c *Config) { c.Keywords = t }
}

// WithStateHook registers a transition callback.
func WithStateHook(fn func(State)) Option {
	return func(c *Config) { c.OnState = fn }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the stock session settings.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     DefaultTimeout,
		Settle:      DefaultSettle,
		AskPrompt:   DefaultAskPrompt,
		RetryPrompt: DefaultRetryPrompt,
		Keywords:    DefaultKeywords(),
		Logger:      slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Outcome describes a finished session. Timeouts and unmatched speech are
// states, not errors; Err is set only for aborted sessions or a failed
// result write.
type Outcome struct {
	ID         string
	State      State
	Keyword    string
	Response   string
	Utterances int
	Retries    int
	Duration   time.Duration
	Err        error
}

// Dialogue runs sessions one at a time.
type Dialogue struct {
	player     playback.Player
	recognizer speech.Recognizer
	result     ResultWriter
	config     *Config
	logger     *slog.Logger
}

// New creates a dialogue runner.
func New(player playback.Player, recognizer speech.Recognizer, result ResultWriter, opts ...Option) *Dialogue {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialogue{
		player:     player,
		recognizer: recognizer,
		result:     result,
		config:     cfg,
		logger:     cfg.Logger.With("component", "dialogue"),
	}
}

// Keywords returns the table in use.
func (d *Dialogue) Keywords() KeywordTable {
	return d.config.Keywords
}

// Run conducts one session and blocks until it reaches a terminal state.
// Callers that must not interrupt a guest should pass a context without
// cancellation.
func (d *Dialogue) Run(ctx context.Context) Outcome {
	start := time.Now()
	out := Outcome{ID: uuid.NewString()}
	logger := d.logger.With("session", out.ID)

	finish := func(s State, err error) Outcome {
		d.enter(s)
		out.State = s
		out.Err = err
		out.Duration = time.Since(start)
		d.config.Metrics.Dialogue(ctx, string(s))
		switch s {
		case StateMatched:
			logger.Info("dialogue matched", "keyword", out.Keyword, "response", out.Response, "retries", out.Retries)
		case StateTimeout:
			logger.Info("dialogue timed out", "utterances", out.Utterances, "retries", out.Retries)
		default:
			logger.Warn("dialogue aborted", "error", err)
		}
		return out
	}

	stream, err := d.recognizer.Listen(ctx)
	if err != nil {
		return finish(StateAborted, fmt.Errorf("dialogue: open recognizer: %w", err))
	}
	defer stream.Close()

	d.enter(StateAsking)
	fmt.Println("🎤 Asking what the guest needs...")
	d.play(ctx, logger, stream, d.config.AskPrompt)
	if err := sleepCtx(ctx, d.config.Settle); err != nil {
		return finish(StateAborted, err)
	}

	d.enter(StateListening)
	deadline := time.NewTimer(d.config.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(StateAborted, ctx.Err())

		case <-deadline.C:
			return finish(StateTimeout, nil)

		case u, ok := <-stream.Utterances():
			if !ok {
				err := stream.Err()
				if err == nil {
					err = speech.ErrStreamClosed
				}
				return finish(StateAborted, err)
			}
			text := strings.TrimSpace(u.Text)
			if text == "" {
				continue
			}
			out.Utterances++
			logger.Info("heard", "text", text)
			fmt.Printf("👂 Heard: %s\n", text)

			if kw, ok := d.config.Keywords.Match(text); ok {
				out.Keyword = kw.Phrase
				out.Response = kw.Response
				d.play(ctx, logger, stream, kw.Response)
				var werr error
				if d.result != nil {
					if werr = d.result.Write(kw.Phrase); werr != nil {
						logger.Error("write result", "error", werr)
						werr = fmt.Errorf("dialogue: write result: %w", werr)
					}
				}
				return finish(StateMatched, werr)
			}

			d.enter(StateNoMatchRetry)
			out.Retries++
			d.play(ctx, logger, stream, d.config.RetryPrompt)
			deadline.Reset(d.config.Timeout)
			d.enter(StateListening)
		}
	}
}

// play gates the microphone for the length of one clip. Playback failures
// are logged and the session carries on.
func (d *Dialogue) play(ctx context.Context, logger *slog.Logger, stream speech.Stream, asset string) {
	if asset == "" {
		return
	}
	stream.Pause()
	defer stream.Resume()
	if err := d.player.Play(ctx, asset); err != nil {
		if errors.Is(err, playback.ErrAssetNotFound) {
			logger.Warn("prompt asset missing", "asset", asset)
			return
		}
		logger.Error("playback failed", "asset", asset, "error", err)
	}
}

func (d *Dialogue) enter(s State) {
	if d.config.OnState != nil {
		d.config.OnState(s)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
