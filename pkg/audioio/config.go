// Package audioio provides microphone capture and raw PCM playback.
//
// Backends:
//   - exec: pipes raw PCM through arecord/aplay (Linux) or sox rec/play (macOS)
//   - mock: scripted or synthetic audio for tests and CI
//
// The backend is selected from the platform or set explicitly in Config.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects exec where a capture tool is expected, mock otherwise.
	BackendAuto Backend = "auto"
	// BackendExec pipes PCM through an external capture/playback process.
	BackendExec Backend = "exec"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (what the offline recognizer models expect)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of each captured chunk.
	// Default: 500ms (8000 samples at 16kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is passed to the capture/playback tool, e.g. "plughw:1,0".
	// Empty uses the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 500 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
