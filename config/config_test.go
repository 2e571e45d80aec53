package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "default config",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.LogLevel)
				assert.Equal(t, "8080", cfg.ServerPort)
				assert.Equal(t, 60*time.Second, cfg.Reconciler.CacheDuration)
				assert.Equal(t, 3, cfg.Reconciler.MaxConcurrent)
				assert.True(t, cfg.Sandbox.Enabled)
			},
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"LOG_LEVEL":               "debug",
				"SERVER_PORT":             "9000",
				"CACHE_DURATION":          "2m",
				"MAX_CONCURRENT_CHECKS":   "5",
				"SANDBOX_ENABLED":         "false",
				"SANDBOX_RATE_PER_SECOND": "0.5",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, "9000", cfg.ServerPort)
				assert.Equal(t, 2*time.Minute, cfg.Reconciler.CacheDuration)
				assert.Equal(t, 5, cfg.Reconciler.MaxConcurrent)
				assert.False(t, cfg.Sandbox.Enabled)
				assert.Equal(t, 0.5, cfg.Sandbox.RatePerSecond)
			},
		},
		{
			name: "malformed values keep defaults",
			envVars: map[string]string{
				"CACHE_DURATION":        "soon",
				"MAX_CONCURRENT_CHECKS": "many",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 60*time.Second, cfg.Reconciler.CacheDuration)
				assert.Equal(t, 3, cfg.Reconciler.MaxConcurrent)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}
			tt.validate(t, NewConfig())
		})
	}
}

func TestLoadConfigLayersFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: warn
api:
  base_url: https://api.example.com
  token: file-token
reconciler:
  cache_duration: 30s
  max_rate_limit_retries: 4
  delays:
    initial_step: 250ms
    initial_spread: 500ms
    check_step: 500ms
    check_spread: 1s
    saturated_min: 1s
    saturated_max: 2s
    backoff_min: 5s
    backoff_max: 10s
`), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv("API_TOKEN", "env-token")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, "env-token", cfg.API.Token)
	assert.Equal(t, 30*time.Second, cfg.Reconciler.CacheDuration)
	assert.Equal(t, 4, cfg.Reconciler.MaxRateLimitRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconciler.Delays.InitialStep)
	assert.Equal(t, 10*time.Second, cfg.Reconciler.Delays.BackoffMax)
	// untouched keys keep their defaults
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 3, cfg.Reconciler.MaxConcurrent)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "read config")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("reconciler: [1, 2"), 0o600))
		t.Setenv(configPathEnv, path)
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "parse config")
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "missing api base url",
			mutate:  func(cfg *Config) { cfg.API.BaseURL = " " },
			wantErr: "API_BASE_URL is required",
		},
		{
			name:    "missing timeline url",
			mutate:  func(cfg *Config) { cfg.Timeline.URL = "" },
			wantErr: "TIMELINE_URL is required",
		},
		{
			name:    "zero cache duration",
			mutate:  func(cfg *Config) { cfg.Reconciler.CacheDuration = 0 },
			wantErr: "cache duration must be positive",
		},
		{
			name:    "zero concurrency",
			mutate:  func(cfg *Config) { cfg.Reconciler.MaxConcurrent = 0 },
			wantErr: "max concurrent checks must be positive",
		},
		{
			name:    "negative retries",
			mutate:  func(cfg *Config) { cfg.Reconciler.MaxRateLimitRetries = -1 },
			wantErr: "max rate limit retries cannot be negative",
		},
		{
			name: "inverted backoff range",
			mutate: func(cfg *Config) {
				cfg.Reconciler.Delays.BackoffMin = 30 * time.Second
				cfg.Reconciler.Delays.BackoffMax = 15 * time.Second
			},
			wantErr: "invalid delays",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestNewAppConfig(t *testing.T) {
	app, err := NewAppConfig()
	require.NoError(t, err)
	defer app.Services.Close()

	assert.NotNil(t, app.Services.Logger)
	manager, err := app.Services.Container.GetManager()
	require.NoError(t, err)
	assert.Equal(t, app.Config.Reconciler.MaxConcurrent, manager.Limiter().Capacity())
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "1500ms")

	assert.Equal(t, "test_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT_VAR", "default"))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 1))
	assert.True(t, getEnvBool("TEST_BOOL", false))
	assert.Equal(t, 1500*time.Millisecond, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, 1.5, getEnvFloat("NON_EXISTENT_VAR", 1.5))
}
