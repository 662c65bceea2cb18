// Package concierge wires the greeting kiosk together: camera sampling,
// identity resolution, greetings, guest dialogues, the journal and the
// dashboard.
package concierge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-concierge/internal/config"
	"github.com/teslashibe/go-concierge/pkg/artifact"
	"github.com/teslashibe/go-concierge/pkg/audioio"
	"github.com/teslashibe/go-concierge/pkg/comparator"
	"github.com/teslashibe/go-concierge/pkg/cooldown"
	"github.com/teslashibe/go-concierge/pkg/debug"
	"github.com/teslashibe/go-concierge/pkg/dialogue"
	"github.com/teslashibe/go-concierge/pkg/greeter"
	"github.com/teslashibe/go-concierge/pkg/identity"
	"github.com/teslashibe/go-concierge/pkg/journal"
	"github.com/teslashibe/go-concierge/pkg/observe"
	"github.com/teslashibe/go-concierge/pkg/playback"
	"github.com/teslashibe/go-concierge/pkg/resolver"
	"github.com/teslashibe/go-concierge/pkg/sampler"
	"github.com/teslashibe/go-concierge/pkg/speech"
	"github.com/teslashibe/go-concierge/pkg/vision"
	"github.com/teslashibe/go-concierge/pkg/web"
)

// App is the concierge controller. It owns every component and their
// lifecycle: New, Init, Run, Shutdown.
type App struct {
	config *config.Config
	logger *slog.Logger

	// Injected or built by Init.
	comparator comparator.Comparator
	player     playback.Player
	recognizer speech.Recognizer
	source     sampler.FrameSource
	detectors  []sampler.Detector
	display    sampler.Display

	store    *identity.Store
	greeter  *greeter.Greeter
	loop     *sampler.Loop
	journal  *journal.Journal
	provider *observe.Provider
	metrics  *observe.Metrics
	web      *web.Server

	frames       atomic.Int64
	interactions int

	closers []io.Closer

	stopMu sync.Mutex
	stop   context.CancelFunc
}

// Option replaces a component Init would otherwise build.
type Option func(*App)

// WithComparator uses cmp instead of the face_compare client.
func WithComparator(cmp comparator.Comparator) Option {
	return func(a *App) { a.comparator = cmp }
}

// WithPlayer uses p for every clip.
func WithPlayer(p playback.Player) Option {
	return func(a *App) { a.player = p }
}

// WithRecognizer uses r instead of vosk.
func WithRecognizer(r speech.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithFrameSource uses src instead of opening the camera.
func WithFrameSource(src sampler.FrameSource) Option {
	return func(a *App) { a.source = src }
}

// WithDetectors uses dets instead of the configured cascades.
func WithDetectors(dets ...sampler.Detector) Option {
	return func(a *App) { a.detectors = dets }
}

// WithDashboard publishes status, logs and frames to s.
func WithDashboard(s *web.Server) Option {
	return func(a *App) { a.web = s }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New validates cfg and creates an App. Components are built by Init.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	a := &App{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "concierge")
	return a, nil
}

// Init builds every component that was not injected. Only a missing
// identity store, comparator credentials or capture device are fatal.
func (a *App) Init() error {
	fmt.Println("🛎️  Concierge - face greeting kiosk")
	fmt.Println("===================================")
	if debug.Enabled {
		fmt.Println("🐛 Debug mode enabled")
	}
	cfg := a.config

	fmt.Print("📈 Metrics... ")
	provider, err := observe.InitProvider()
	if err != nil {
		fmt.Printf("⚠️  %v\n", err)
	} else {
		a.provider = provider
		a.metrics = provider.Metrics
		fmt.Println("✅")
	}

	if cfg.Journal.Path != "" {
		fmt.Print("📒 Journal... ")
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Printf("⚠️  %v\n", err)
			a.logger.Warn("journal disabled", "path", cfg.Journal.Path, "error", err)
		} else {
			a.journal = j
			a.closers = append(a.closers, j)
			fmt.Println("✅")
		}
	}

	fmt.Print("👥 Identity store... ")
	store, err := identity.Load(cfg.Identity.Store, a.logger)
	if err != nil {
		return fmt.Errorf("identity store: %w", err)
	}
	a.store = store
	fmt.Printf("✅ %d records\n", store.Len())

	if a.comparator == nil {
		client, err := comparator.NewClient(
			comparator.WithEndpoint(cfg.Comparator.Endpoint),
			comparator.WithServerID(cfg.Comparator.ServerID),
			comparator.WithCredentials(cfg.Credentials.AppID, cfg.Credentials.APIKey, cfg.Credentials.APISecret),
			comparator.WithTimeouts(cfg.Comparator.ConnectTimeout, cfg.Comparator.ReadTimeout),
			comparator.WithImageLimit(cfg.Comparator.MaxImageBytes, cfg.Comparator.MaxImageDim),
			comparator.WithLogger(a.logger),
		)
		if err != nil {
			return fmt.Errorf("comparator: %w", err)
		}
		a.comparator = client
	}

	assets := playback.Assets{Dir: cfg.Audio.AssetDir}
	if a.player == nil {
		if err := a.initPlayer(assets); err != nil {
			return fmt.Errorf("playback: %w", err)
		}
	}
	a.checkAssets(assets)

	if a.recognizer == nil {
		src, err := audioio.NewSource(cfg.Audio.Capture, a.logger)
		if err != nil {
			return fmt.Errorf("microphone: %w", err)
		}
		a.closers = append(a.closers, src)
		a.recognizer = speech.NewVosk(speech.VoskConfig{URL: cfg.Speech.URL, Logger: a.logger}, src)
	}

	conv := dialogue.New(a.player, a.recognizer, artifact.NewResultFile(cfg.Dialogue.ResultFile),
		dialogue.WithTimeout(cfg.Dialogue.Timeout),
		dialogue.WithSettle(cfg.Dialogue.Settle),
		dialogue.WithPrompts(cfg.Dialogue.AskPrompt, cfg.Dialogue.RetryPrompt),
		dialogue.WithKeywords(dialogue.KeywordTable(cfg.Dialogue.Keywords)),
		dialogue.WithStateHook(a.onDialogueState),
		dialogue.WithMetrics(a.metrics),
		dialogue.WithLogger(a.logger),
	)
	a.greeter = greeter.New(store, cooldown.New(cfg.Cooldown.Window), a.player, conv,
		greeter.WithMetrics(a.metrics),
		greeter.WithLogger(a.logger),
	)

	pacer := resolver.NewPacer(cfg.Comparator.MinInterval)
	a.logger.Info("comparator pacing", "interval", pacer.Interval(), "threshold", cfg.Comparator.Threshold)
	res := resolver.New(store, a.comparator, pacer,
		resolver.WithThreshold(cfg.Comparator.Threshold),
		resolver.WithRetry(cfg.Comparator.MaxAttempts, cfg.Comparator.BackoffStep),
		resolver.WithMetrics(a.metrics),
		resolver.WithLogger(a.logger),
	)

	if err := a.initVision(); err != nil {
		return err
	}

	crops, err := artifact.NewCropStore(cfg.Sampling.CropDir)
	if err != nil {
		return fmt.Errorf("crop store: %w", err)
	}

	opts := []sampler.Option{
		sampler.WithInterval(cfg.Sampling.Interval),
		sampler.WithThresholds(cfg.Sampling.MinConfidence, cfg.Sampling.MinSize),
		sampler.WithHooks(sampler.Hooks{
			OnSampled:   a.onSampled,
			OnResolving: a.onResolving,
			OnDetection: a.onDetection,
		}),
		sampler.WithMetrics(a.metrics),
		sampler.WithLogger(a.logger),
	}
	if a.display != nil {
		opts = append(opts, sampler.WithDisplay(a.display))
	}
	a.loop = sampler.New(&countingSource{FrameSource: a.source, n: &a.frames}, a.detectors, crops, res, opts...)

	if a.web != nil {
		a.web.OnStop = a.Stop
		if a.journal != nil {
			a.web.SetEvents(a.journal)
		}
		if a.provider != nil {
			a.web.SetMetrics(a.provider.Handler)
		}
	}

	fmt.Println("✅ Ready")
	return nil
}

func (a *App) initPlayer(assets playback.Assets) error {
	def, err := playback.NewExecPlayer(assets, a.config.Audio.Command, a.logger)
	if err != nil {
		return err
	}
	router := &playback.Router{Default: def}
	if a.config.Audio.Opus {
		sink, err := audioio.NewSink(a.config.Audio.Playback, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sink)
		router.ByExt = map[string]playback.Player{
			".opus": playback.NewOpusPlayer(assets, sink, 1, a.logger),
		}
	}
	a.player = router
	return nil
}

// checkAssets warns about greeting, prompt and response clips that are
// missing. Playback of a missing clip fails at runtime and is not fatal.
func (a *App) checkAssets(assets playback.Assets) {
	names := []string{a.config.Dialogue.AskPrompt, a.config.Dialogue.RetryPrompt}
	names = append(names, dialogue.KeywordTable(a.config.Dialogue.Keywords).Responses()...)
	for _, rec := range a.store.Records() {
		if rec.GreetingAudio != "" {
			names = append(names, rec.GreetingAudio)
		}
	}
	if missing := playback.CheckAssets(assets, a.logger, names...); len(missing) > 0 {
		fmt.Printf("⚠️  %d audio assets missing from %s\n", len(missing), assets.Dir)
	}
}

func (a *App) initVision() error {
	cfg := a.config
	if a.source == nil {
		fmt.Printf("📹 Opening camera %s... ", cfg.Camera.Device)
		cam, err := vision.OpenCamera(cfg.Camera.Device, a.logger)
		if err != nil {
			fmt.Println("❌")
			return err
		}
		a.closers = append(a.closers, cam)
		a.source = cam
		fmt.Println("✅")
	}

	if a.detectors == nil {
		cascade := func(class sampler.Class, path string) (*vision.CascadeDetector, error) {
			cc := vision.DefaultCascadeConfig(path)
			cc.ScaleFactor = cfg.Sampling.ScaleFactor
			cc.MinNeighbors = cfg.Sampling.MinNeighbors
			cc.MinSize = cfg.Sampling.MinSize
			return vision.NewCascade(class, cc)
		}

		var frontal sampler.Detector
		if cfg.Sampling.FrontalModel != "" {
			yn, err := vision.NewYuNet(vision.DefaultYuNetConfig(cfg.Sampling.FrontalModel))
			if err != nil {
				return fmt.Errorf("frontal model: %w", err)
			}
			a.closers = append(a.closers, yn)
			frontal = yn
		} else {
			fc, err := cascade(sampler.ClassFrontal, cfg.Sampling.FrontalCascade)
			if err != nil {
				return fmt.Errorf("frontal cascade: %w", err)
			}
			a.closers = append(a.closers, fc)
			frontal = fc
		}
		pc, err := cascade(sampler.ClassProfile, cfg.Sampling.ProfileCascade)
		if err != nil {
			return fmt.Errorf("profile cascade: %w", err)
		}
		a.closers = append(a.closers, pc)
		a.detectors = []sampler.Detector{frontal, pc}
	}

	if cfg.Camera.Window && a.display == nil {
		w := vision.NewWindow("Concierge")
		a.closers = append(a.closers, w)
		a.display = w
	}
	return nil
}

// Stop asks Run to return at the next frame boundary. An interaction in
// progress completes first.
func (a *App) Stop() {
	a.stopMu.Lock()
	defer a.stopMu.Unlock()
	if a.stop != nil {
		a.stop()
	}
}

// Run samples the camera and greets whoever resolves, until ctx is done,
// Stop is called, the operator quits or the source fails. With Once set it
// returns after the first resolved face.
func (a *App) Run(ctx context.Context) error {
	if a.loop == nil {
		return errors.New("concierge: Init not called")
	}
	ctx, cancel := context.WithCancel(ctx)
	a.stopMu.Lock()
	a.stop = cancel
	a.stopMu.Unlock()
	defer cancel()

	fmt.Println("👀 Watching for faces... (press q in the window or Ctrl+C to stop)")
	for {
		a.setPhase(web.PhaseSampling)
		res, err := a.loop.Run(ctx)
		if err != nil {
			a.setPhase(web.PhaseIdle)
			if errors.Is(err, sampler.ErrSourceExhausted) {
				a.logger.Info("frame source ended", "frames", a.frames.Load(), "error", err)
				return nil
			}
			return err
		}
		if res.Reason != sampler.ExitMatched {
			a.setPhase(web.PhaseIdle)
			a.logger.Info("sampling stopped", "reason", res.Reason, "frames", a.frames.Load())
			return nil
		}

		a.interact(ctx, res.Match)

		if a.config.Once {
			a.setPhase(web.PhaseIdle)
			return nil
		}
		if ctx.Err() != nil {
			a.setPhase(web.PhaseIdle)
			return nil
		}
	}
}

// interact greets a resolved face. It runs to completion even when ctx is
// cancelled.
func (a *App) interact(ctx context.Context, d *sampler.Detection) greeter.Result {
	ctx = context.WithoutCancel(ctx)
	key := d.Result.Record.DisplayKey

	a.setPhase(web.PhaseGreeting)
	res := a.greeter.Greet(ctx, key)
	if res.Outcome == greeter.OutcomeCoolingDown {
		a.logger.Debug("recently greeted", "key", key)
		return res
	}
	a.interactions++

	detail := map[string]any{"outcome": string(res.Outcome), "kind": string(res.Record.Kind)}
	if res.Err != nil {
		detail["error"] = res.Err.Error()
	}
	a.record(ctx, &journal.Event{Kind: journal.KindGreeting, DisplayKey: key, Detail: detail})

	var keyword string
	if res.Dialogue != nil {
		keyword = res.Dialogue.Keyword
		dd := map[string]any{
			"session":    res.Dialogue.ID,
			"state":      string(res.Dialogue.State),
			"retries":    res.Dialogue.Retries,
			"utterances": res.Dialogue.Utterances,
			"duration":   res.Dialogue.Duration.String(),
		}
		if keyword != "" {
			dd["keyword"] = keyword
			dd["response"] = res.Dialogue.Response
		}
		a.record(ctx, &journal.Event{Kind: journal.KindDialogue, DisplayKey: key, Detail: dd})
	}

	fmt.Printf("✅ %s: %s\n", key, res.Outcome)
	if a.web != nil {
		a.web.UpdateStatus(func(st *web.Status) {
			st.Interactions = a.interactions
			st.LastIdentity = key
			st.LastKind = string(res.Record.Kind)
			st.LastOutcome = string(res.Outcome)
			if keyword != "" {
				st.LastKeyword = keyword
			}
		})
	}
	return res
}

// Shutdown releases every component. It is safe to call after a failed
// Init.
func (a *App) Shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
	a.closers = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.provider.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics shutdown", "error", err)
	}
}

// Journal returns the event journal, or nil when it is disabled.
func (a *App) Journal() *journal.Journal {
	return a.journal
}
