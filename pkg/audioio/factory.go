package audioio

import (
	"fmt"
	"log/slog"
	"runtime"
)

// NewSource opens the microphone described by cfg. BackendAuto picks exec
// on Linux and macOS and the mock elsewhere.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	backend, logger, err := prepare(cfg, "capture", logger)
	if err != nil {
		return nil, err
	}
	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendExec:
		return NewExecSource(cfg, logger)
	}
	return nil, fmt.Errorf("audioio: unsupported capture backend %q", backend)
}

// NewSink opens the speaker described by cfg, choosing the backend like
// NewSource.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	backend, logger, err := prepare(cfg, "playback", logger)
	if err != nil {
		return nil, err
	}
	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendExec:
		return NewExecSink(cfg, logger)
	}
	return nil, fmt.Errorf("audioio: unsupported playback backend %q", backend)
}

func prepare(cfg Config, direction string, logger *slog.Logger) (Backend, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, fmt.Errorf("audioio: %s config: %w", direction, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = platformBackend()
	}
	logger.Info("audio device",
		"direction", direction,
		"backend", backend,
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return backend, logger, nil
}

func platformBackend() Backend {
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		return BackendExec
	}
	return BackendMock
}
