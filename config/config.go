/*
Package config provides configuration management for the mark status service.

Settings come from three layers, later ones winning:

  - built-in defaults
  - an optional YAML file named by MARKSTATUS_CONFIG
  - environment variables

NewAppConfig validates the result and builds the service container.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/markstatus/container"
	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/scheduler"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const configPathEnv = "MARKSTATUS_CONFIG"

// Config holds all application configuration
type Config struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServerPort  string `yaml:"server_port"`
	ServiceName string `yaml:"service_name"`

	API        APIConfig        `yaml:"api"`
	Timeline   TimelineConfig   `yaml:"timeline"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`

	AlertInterval         time.Duration `yaml:"alert_interval"`
	ClientCleanupInterval time.Duration `yaml:"client_cleanup_interval"`
}

// APIConfig points the client at the remote mark API
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// TimelineConfig locates the home timeline and sizes the reload queue
type TimelineConfig struct {
	URL             string        `yaml:"url"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
	ReloadQueueSize int           `yaml:"reload_queue_size"`
	ReloadWait      time.Duration `yaml:"reload_wait"`
}

// ReconcilerConfig tunes status checks
type ReconcilerConfig struct {
	CacheDuration       time.Duration    `yaml:"cache_duration"`
	MaxConcurrent       int              `yaml:"max_concurrent"`
	MaxRateLimitRetries int              `yaml:"max_rate_limit_retries"`
	CheckTimeout        time.Duration    `yaml:"check_timeout"`
	MutationTimeout     time.Duration    `yaml:"mutation_timeout"`
	Delays              scheduler.Delays `yaml:"delays"`
}

// SandboxConfig controls the in-process stand-in API
type SandboxConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Port          string        `yaml:"port"`
	Viewer        string        `yaml:"viewer"`
	Posts         int           `yaml:"posts"`
	OwnEvery      int           `yaml:"own_every"`
	MarkedEvery   int           `yaml:"marked_every"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Latency       time.Duration `yaml:"latency"`
}

// Services holds all service dependencies
type Services struct {
	Container *container.Container
	Logger    *logrus.Logger
}

// AppConfig holds both configuration and services
type AppConfig struct {
	Config   *Config
	Services *Services
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		LogFormat:   "json",
		ServerPort:  "8080",
		ServiceName: "markstatus",
		API: APIConfig{
			BaseURL: "http://localhost:8081",
			Timeout: 10 * time.Second,
		},
		Timeline: TimelineConfig{
			URL:             "http://localhost:8081/timeline.xml",
			LoadTimeout:     30 * time.Second,
			ReloadQueueSize: 4,
			ReloadWait:      time.Second,
		},
		Reconciler: ReconcilerConfig{
			CacheDuration:   60 * time.Second,
			MaxConcurrent:   3,
			CheckTimeout:    10 * time.Second,
			MutationTimeout: 10 * time.Second,
			Delays:          scheduler.DefaultDelays(),
		},
		Sandbox: SandboxConfig{
			Enabled:       true,
			Port:          "8081",
			Viewer:        "viewer",
			Posts:         20,
			OwnEvery:      7,
			MarkedEvery:   3,
			RatePerSecond: 2,
			Burst:         5,
		},
		AlertInterval:         30 * time.Second,
		ClientCleanupInterval: time.Minute,
	}
}

// NewConfig returns the defaults with environment overrides applied
func NewConfig() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadConfig layers the YAML file named by MARKSTATUS_CONFIG, if any, and
// then the environment over the defaults
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.ServerPort = getEnv("SERVER_PORT", c.ServerPort)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)

	c.API.BaseURL = getEnv("API_BASE_URL", c.API.BaseURL)
	c.API.Token = getEnv("API_TOKEN", c.API.Token)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)

	c.Timeline.URL = getEnv("TIMELINE_URL", c.Timeline.URL)
	c.Timeline.LoadTimeout = getEnvDuration("TIMELINE_LOAD_TIMEOUT", c.Timeline.LoadTimeout)
	c.Timeline.ReloadQueueSize = getEnvInt("RELOAD_QUEUE_SIZE", c.Timeline.ReloadQueueSize)
	c.Timeline.ReloadWait = getEnvDuration("RELOAD_WAIT", c.Timeline.ReloadWait)

	c.Reconciler.CacheDuration = getEnvDuration("CACHE_DURATION", c.Reconciler.CacheDuration)
	c.Reconciler.MaxConcurrent = getEnvInt("MAX_CONCURRENT_CHECKS", c.Reconciler.MaxConcurrent)
	c.Reconciler.MaxRateLimitRetries = getEnvInt("MAX_RATE_LIMIT_RETRIES", c.Reconciler.MaxRateLimitRetries)
	c.Reconciler.CheckTimeout = getEnvDuration("CHECK_TIMEOUT", c.Reconciler.CheckTimeout)
	c.Reconciler.MutationTimeout = getEnvDuration("MUTATION_TIMEOUT", c.Reconciler.MutationTimeout)

	c.Sandbox.Enabled = getEnvBool("SANDBOX_ENABLED", c.Sandbox.Enabled)
	c.Sandbox.Port = getEnv("SANDBOX_PORT", c.Sandbox.Port)
	c.Sandbox.Viewer = getEnv("SANDBOX_VIEWER", c.Sandbox.Viewer)
	c.Sandbox.Posts = getEnvInt("SANDBOX_POSTS", c.Sandbox.Posts)
	c.Sandbox.RatePerSecond = getEnvFloat("SANDBOX_RATE_PER_SECOND", c.Sandbox.RatePerSecond)
	c.Sandbox.Burst = getEnvInt("SANDBOX_BURST", c.Sandbox.Burst)
	c.Sandbox.Latency = getEnvDuration("SANDBOX_LATENCY", c.Sandbox.Latency)

	c.AlertInterval = getEnvDuration("ALERT_INTERVAL", c.AlertInterval)
	c.ClientCleanupInterval = getEnvDuration("CLIENT_CLEANUP_INTERVAL", c.ClientCleanupInterval)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if strings.TrimSpace(c.Timeline.URL) == "" {
		return fmt.Errorf("TIMELINE_URL is required")
	}
	if c.Reconciler.CacheDuration <= 0 {
		return fmt.Errorf("cache duration must be positive, got %v", c.Reconciler.CacheDuration)
	}
	if c.Reconciler.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent checks must be positive, got %d", c.Reconciler.MaxConcurrent)
	}
	if c.Reconciler.MaxRateLimitRetries < 0 {
		return fmt.Errorf("max rate limit retries cannot be negative, got %d", c.Reconciler.MaxRateLimitRetries)
	}
	if err := c.Reconciler.Delays.Validate(); err != nil {
		return fmt.Errorf("invalid delays: %w", err)
	}
	return nil
}

// NewServices creates and initializes all service dependencies using DI container
func NewServices(config *Config) (*Services, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = middleware.InitLogger(config.LogLevel, config.LogFormat)
	}

	diContainer := container.NewContainer()
	err := diContainer.InitializeServices(container.Settings{
		APIBaseURL:          config.API.BaseURL,
		APIToken:            config.API.Token,
		APITimeout:          config.API.Timeout,
		TimelineLoadTimeout: config.Timeline.LoadTimeout,
		ReloadQueueSize:     config.Timeline.ReloadQueueSize,
		ReloadWait:          config.Timeline.ReloadWait,
		CacheDuration:       config.Reconciler.CacheDuration,
		MaxConcurrent:       config.Reconciler.MaxConcurrent,
		MaxRateLimitRetries: config.Reconciler.MaxRateLimitRetries,
		CheckTimeout:        config.Reconciler.CheckTimeout,
		MutationTimeout:     config.Reconciler.MutationTimeout,
		Delays:              config.Reconciler.Delays,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dependency container: %w", err)
	}

	return &Services{
		Container: diContainer,
		Logger:    logger,
	}, nil
}

// NewAppConfig creates a new application configuration with all dependencies
func NewAppConfig() (*AppConfig, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	services, err := NewServices(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &AppConfig{
		Config:   config,
		Services: services,
	}, nil
}

// Close gracefully stops all services
func (s *Services) Close() error {
	if s.Container != nil {
		return s.Container.Close()
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as time.Duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
