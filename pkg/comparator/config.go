package comparator

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds client configuration.
type Config struct {
	// Connection
	Endpoint string // scheme and host, e.g. "http://api.xf-yun.com"
	ServerID string // private service id, the last path segment

	// Credentials
	AppID     string
	APIKey    string
	APISecret string

	// Timeouts
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Upload guard
	MaxImageBytes int // images above this are shrunk before upload
	MaxImageDim   int // longest side after shrinking

	// HTTPClient overrides the client built from the timeouts.
	HTTPClient *http.Client

	// Now overrides the clock used for request signing.
	Now func() time.Time

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithEndpoint sets the API scheme and host.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) { c.Endpoint = endpoint }
}

// WithServerID sets the private service id.
func WithServerID(id string) Option {
	return func(c *Config) { c.ServerID = id }
}

// WithCredentials sets the app id, API key and API secret.
func WithCredentials(appID, apiKey, apiSecret string) Option {
	return func(c *Config) {
		c.AppID = appID
		c.APIKey = apiKey
		c.APISecret = apiSecret
	}
}

// WithTimeouts sets the connect and read bounds.
func WithTimeouts(connect, read time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = connect
		c.ReadTimeout = read
	}
}

// WithImageLimit sets the upload size guard.
func WithImageLimit(maxBytes, maxDim int) Option {
	return func(c *Config) {
		c.MaxImageBytes = maxBytes
		c.MaxImageDim = maxDim
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Config) { c.HTTPClient = h }
}

// WithClock sets the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the iFlytek defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:       "http://api.xf-yun.com",
		ServerID:       "s67c9c78c",
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    10 * time.Second,
		MaxImageBytes:  3 << 20,
		MaxImageDim:    800,
		Now:            time.Now,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AppID == "" || c.APIKey == "" || c.APISecret == "" {
		return ErrNoCredentials
	}
	return nil
}
