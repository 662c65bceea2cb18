package config

import (
	"errors"
	"os"
)

// Environment variables read by the concierge.
const (
	EnvConfigPath = "CONCIERGE_CONFIG"
	EnvAppID      = "XFYUN_APP_ID"
	EnvAPIKey     = "XFYUN_API_KEY"
	EnvAPISecret  = "XFYUN_API_SECRET"
)

// DefaultPath is used when neither -config nor CONCIERGE_CONFIG is set.
const DefaultPath = "concierge.yaml"

// ErrNoCredentials is returned when comparator credentials are missing.
var ErrNoCredentials = errors.New("config: " + EnvAppID + ", " + EnvAPIKey + " and " + EnvAPISecret + " must be set")

// Credentials authenticate against the comparator service.
type Credentials struct {
	AppID     string
	APIKey    string
	APISecret string
}

// Complete reports whether every credential is set.
func (c Credentials) Complete() bool {
	return c.AppID != "" && c.APIKey != "" && c.APISecret != ""
}

// CredentialsFromEnv reads the comparator credentials.
func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		AppID:     os.Getenv(EnvAppID),
		APIKey:    os.Getenv(EnvAPIKey),
		APISecret: os.Getenv(EnvAPISecret),
	}
	if !c.Complete() {
		return c, ErrNoCredentials
	}
	return c, nil
}

// LoadEnv fills cfg.Credentials from the environment.
func (cfg *Config) LoadEnv() error {
	creds, err := CredentialsFromEnv()
	cfg.Credentials = creds
	return err
}

// Path returns flagPath if set, then CONCIERGE_CONFIG, then DefaultPath.
// The second result reports whether the path was chosen explicitly.
func Path(flagPath string) (string, bool) {
	if flagPath != "" {
		return flagPath, true
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true
	}
	return DefaultPath, false
}

// LoadOrDefault loads path when it exists. A missing default file yields
// [Default]; a missing explicit file is an error.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		cfg := Default()
		return cfg, Validate(cfg)
	}
	return Load(path)
}
