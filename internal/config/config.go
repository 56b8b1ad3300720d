package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the poltrona client.
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BackendConfig points at the hosted backend-as-a-service project.
type BackendConfig struct {
	URL         string        `yaml:"url"`
	AnonKey     string        `yaml:"anon_key"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	CacheDir    string        `yaml:"cache_dir"`
}

// SessionConfig controls the token lifecycle.
type SessionConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ActivityWindow  time.Duration `yaml:"activity_window"`
	RefreshAttempts uint          `yaml:"refresh_attempts"`
	RememberDefault bool          `yaml:"remember_default"`
	VerifyOnStartup bool          `yaml:"verify_on_startup"`
}

// StorageConfig locates the durable session store.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// OAuthConfig configures the loopback redirect receiver.
type OAuthConfig struct {
	Provider     string `yaml:"provider"`
	ListenAddr   string `yaml:"listen_addr"`
	CallbackPath string `yaml:"callback_path"`
}

// TelemetryConfig enables OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			HTTPTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			RefreshInterval: 50 * time.Minute,
			ActivityWindow:  30 * time.Minute,
			RefreshAttempts: 3,
			RememberDefault: true,
			VerifyOnStartup: true,
		},
		OAuth: OAuthConfig{
			Provider:     "google",
			ListenAddr:   "127.0.0.1:53682",
			CallbackPath: "/callback",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "poltrona",
		},
	}
}

// DefaultPath returns ~/.poltrona/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".poltrona", "config.yaml"), nil
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. A missing file is not an error: defaults and
// environment variables are used instead.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults + env only
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLTRONA_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("POLTRONA_ANON_KEY"); v != "" {
		cfg.Backend.AnonKey = v
	}
	if v := os.Getenv("POLTRONA_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("POLTRONA_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.RefreshInterval = d
		}
	}
	cfg.Backend.URL = strings.TrimRight(cfg.Backend.URL, "/")
}

// Validate checks required fields and sane intervals.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("backend URL is required (backend.url or POLTRONA_BACKEND_URL)")
	}
	if c.Backend.AnonKey == "" {
		return errors.New("backend anon key is required (backend.anon_key or POLTRONA_ANON_KEY)")
	}
	if c.Backend.HTTPTimeout <= 0 {
		return errors.New("backend.http_timeout must be greater than 0")
	}
	return c.Session.Validate()
}

// Validate checks the lifecycle timings.
func (s SessionConfig) Validate() error {
	if s.RefreshInterval <= 0 {
		return errors.New("session.refresh_interval must be greater than 0")
	}
	if s.ActivityWindow <= 0 {
		return errors.New("session.activity_window must be greater than 0")
	}
	if s.RefreshAttempts == 0 {
		return errors.New("session.refresh_attempts must be at least 1")
	}
	return nil
}
