package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks a configuration that failed validation.
var ErrInvalid = errors.New("config: invalid")

// Load reads the YAML file at path over [Default], then validates it.
// Credentials are not loaded; call [Config.LoadEnv] for those.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns every problem found,
// joined, and wrapping [ErrInvalid].
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Camera.Device == "" {
		add("camera.device is required")
	}

	s := cfg.Sampling
	if s.Interval < 1 {
		add("sampling.interval %d must be at least 1", s.Interval)
	}
	if s.MinConfidence < 0 || s.MinConfidence >= 1 {
		add("sampling.min_confidence %.2f is out of range [0, 1)", s.MinConfidence)
	}
	if s.MinSize < 1 {
		add("sampling.min_size %d must be positive", s.MinSize)
	}
	if s.ScaleFactor <= 1 {
		add("sampling.scale_factor %.2f must be greater than 1", s.ScaleFactor)
	}
	if s.MinNeighbors < 0 {
		add("sampling.min_neighbors %d must not be negative", s.MinNeighbors)
	}
	if s.FrontalCascade == "" && s.FrontalModel == "" {
		add("sampling.frontal_cascade or sampling.frontal_model is required")
	}

	if cfg.Identity.Store == "" {
		add("identity.store is required")
	}

	c := cfg.Comparator
	if c.Endpoint == "" {
		add("comparator.endpoint is required")
	}
	if c.ServerID == "" {
		add("comparator.server_id is required")
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		add("comparator.threshold %.2f is out of range (0, 1)", c.Threshold)
	}
	if c.MaxAttempts < 1 {
		add("comparator.max_attempts %d must be at least 1", c.MaxAttempts)
	}
	if c.BackoffStep < 0 || c.MinInterval < 0 {
		add("comparator.backoff_step and comparator.min_interval must not be negative")
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 {
		add("comparator.connect_timeout and comparator.read_timeout must be positive")
	}

	if cfg.Cooldown.Window <= 0 {
		add("cooldown.window must be positive")
	}

	d := cfg.Dialogue
	if d.Timeout <= 0 {
		add("dialogue.timeout must be positive")
	}
	if d.Settle < 0 {
		add("dialogue.settle must not be negative")
	}
	if d.ResultFile == "" {
		add("dialogue.result_file is required")
	}
	if len(d.Keywords) == 0 {
		add("dialogue.keywords must not be empty")
	}
	for i, kw := range d.Keywords {
		if kw.Phrase == "" || kw.Response == "" {
			add("dialogue.keywords[%d] needs both keyword and response", i)
		}
	}

	if err := cfg.Audio.Capture.Validate(); err != nil {
		add("audio.capture: %v", err)
	}
	if err := cfg.Audio.Playback.Validate(); err != nil {
		add("audio.playback: %v", err)
	}

	if cfg.Web.Enabled && (cfg.Web.Port < 1 || cfg.Web.Port > 65535) {
		add("web.port %d is out of range", cfg.Web.Port)
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
