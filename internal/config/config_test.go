package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("reads yaml and keeps defaults for missing fields", func(t *testing.T) {
		path := writeConfig(t, `
backend:
  url: https://project.example.co/
  anon_key: anon
session:
  refresh_interval: 10m
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "https://project.example.co", cfg.Backend.URL)
		assert.Equal(t, "anon", cfg.Backend.AnonKey)
		assert.Equal(t, 10*time.Minute, cfg.Session.RefreshInterval)
		assert.Equal(t, 30*time.Minute, cfg.Session.ActivityWindow)
		assert.Equal(t, uint(3), cfg.Session.RefreshAttempts)
		assert.True(t, cfg.Session.RememberDefault)
		assert.Equal(t, "google", cfg.OAuth.Provider)
	})

	t.Run("missing file falls back to env", func(t *testing.T) {
		t.Setenv("POLTRONA_BACKEND_URL", "https://env.example.co")
		t.Setenv("POLTRONA_ANON_KEY", "env-key")
		t.Setenv("POLTRONA_STORAGE_DIR", "/tmp/poltrona")

		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.co", cfg.Backend.URL)
		assert.Equal(t, "env-key", cfg.Backend.AnonKey)
		assert.Equal(t, "/tmp/poltrona", cfg.Storage.Dir)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := writeConfig(t, "backend:\n  url: https://file.example.co\n  anon_key: file\n")
		t.Setenv("POLTRONA_ANON_KEY", "env")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "env", cfg.Backend.AnonKey)
	})

	t.Run("invalid yaml is rejected", func(t *testing.T) {
		path := writeConfig(t, "backend: [unterminated")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Backend.URL = "https://x"
		cfg.Backend.AnonKey = "k"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing url", func(c *Config) { c.Backend.URL = "" }, "backend URL"},
		{"missing anon key", func(c *Config) { c.Backend.AnonKey = "" }, "anon key"},
		{"zero timeout", func(c *Config) { c.Backend.HTTPTimeout = 0 }, "http_timeout"},
		{"zero refresh interval", func(c *Config) { c.Session.RefreshInterval = 0 }, "refresh_interval"},
		{"zero activity window", func(c *Config) { c.Session.ActivityWindow = 0 }, "activity_window"},
		{"zero attempts", func(c *Config) { c.Session.RefreshAttempts = 0 }, "refresh_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
