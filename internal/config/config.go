// Package config loads the concierge configuration.
//
// Settings come from a YAML file layered over [Default]; credentials come
// only from the environment; command-line flags override both.
package config

import (
	"time"

	"github.com/teslashibe/go-concierge/pkg/audioio"
	"github.com/teslashibe/go-concierge/pkg/dialogue"
)

// Config is the full application configuration.
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Sampling   SamplingConfig   `yaml:"sampling"`
	Identity   IdentityConfig   `yaml:"identity"`
	Comparator ComparatorConfig `yaml:"comparator"`
	Cooldown   CooldownConfig   `yaml:"cooldown"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	Audio      AudioConfig      `yaml:"audio"`
	Speech     SpeechConfig     `yaml:"speech"`
	Journal    JournalConfig    `yaml:"journal"`
	Web        WebConfig        `yaml:"web"`
	Log        LogConfig        `yaml:"log"`

	// Once stops after the first completed interaction.
	Once bool `yaml:"once"`

	// Credentials are filled from the environment, never from YAML.
	Credentials Credentials `yaml:"-"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device string `yaml:"device"` // index ("0"), file or stream URL
	Window bool   `yaml:"window"` // show the operator window
}

// SamplingConfig tunes detection.
type SamplingConfig struct {
	Interval       int     `yaml:"interval"`
	MinConfidence  float64 `yaml:"min_confidence"`
	MinSize        int     `yaml:"min_size"`
	ScaleFactor    float64 `yaml:"scale_factor"`
	MinNeighbors   int     `yaml:"min_neighbors"`
	FrontalCascade string  `yaml:"frontal_cascade"`
	ProfileCascade string  `yaml:"profile_cascade"`
	FrontalModel   string  `yaml:"frontal_model"` // optional YuNet onnx, replaces the frontal cascade
	CropDir        string  `yaml:"crop_dir"`
}

// IdentityConfig locates the registered identity store.
type IdentityConfig struct {
	Store string `yaml:"store"`
}

// ComparatorConfig configures the face comparison service.
type ComparatorConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	ServerID       string        `yaml:"server_id"`
	Threshold      float64       `yaml:"threshold"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffStep    time.Duration `yaml:"backoff_step"`
	MinInterval    time.Duration `yaml:"min_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxImageBytes  int           `yaml:"max_image_bytes"`
	MaxImageDim    int           `yaml:"max_image_dim"`
}

// CooldownConfig sets the greeting suppression window.
type CooldownConfig struct {
	Window time.Duration `yaml:"window"`
}

// DialogueConfig configures guest dialogues.
type DialogueConfig struct {
	Timeout     time.Duration      `yaml:"timeout"`
	Settle      time.Duration      `yaml:"settle"`
	AskPrompt   string             `yaml:"ask_prompt"`
	RetryPrompt string             `yaml:"retry_prompt"`
	ResultFile  string             `yaml:"result_file"`
	Keywords    []dialogue.Keyword `yaml:"keywords"`
}

// AudioConfig configures playback and capture.
type AudioConfig struct {
	AssetDir string         `yaml:"asset_dir"`
	Command  []string       `yaml:"command"` // external player, asset path appended
	Opus     bool           `yaml:"opus"`    // decode .opus assets in-process
	Playback audioio.Config `yaml:"playback"`
	Capture  audioio.Config `yaml:"capture"`
}

// SpeechConfig locates the recognizer.
type SpeechConfig struct {
	URL string `yaml:"url"`
}

// JournalConfig locates the event database. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// WebConfig configures the dashboard.
type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{Device: "0", Window: true},
		Sampling: SamplingConfig{
			Interval:       30,
			MinConfidence:  0.05,
			MinSize:        50,
			ScaleFactor:    1.1,
			MinNeighbors:   5,
			FrontalCascade: "models/haarcascade_frontalface_alt2.xml",
			ProfileCascade: "models/haarcascade_profileface.xml",
			CropDir:        "images/faces",
		},
		Identity: IdentityConfig{Store: "users.json"},
		Comparator: ComparatorConfig{
			Endpoint:       "http://api.xf-yun.com",
			ServerID:       "s67c9c78c",
			Threshold:      0.67,
			MaxAttempts:    3,
			BackoffStep:    2 * time.Second,
			MinInterval:    500 * time.Millisecond,
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    10 * time.Second,
			MaxImageBytes:  3 << 20,
			MaxImageDim:    800,
		},
		Cooldown: CooldownConfig{Window: 180 * time.Second},
		Dialogue: DialogueConfig{
			Timeout:     dialogue.DefaultTimeout,
			Settle:      dialogue.DefaultSettle,
			AskPrompt:   dialogue.DefaultAskPrompt,
			RetryPrompt: dialogue.DefaultRetryPrompt,
			ResultFile:  "FaceDetection/recognized_item.txt",
			Keywords:    dialogue.DefaultKeywords(),
		},
		Audio: AudioConfig{
			AssetDir: "audio",
			Playback: audioio.Config{
				Backend:        audioio.BackendAuto,
				SampleRate:     48000,
				Channels:       1,
				BufferDuration: 100 * time.Millisecond,
			},
			Capture: audioio.DefaultConfig(),
		},
		Speech:  SpeechConfig{URL: "ws://localhost:2700"},
		Journal: JournalConfig{Path: "data/journal.db"},
		Web:     WebConfig{Enabled: true, Port: 8181},
		Log:     LogConfig{Level: "info"},
	}
}
