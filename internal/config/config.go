// Package config provides configuration management for the EDR sensor.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lvonguyen/edrsensor/internal/shipping"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all sensor configuration.
type Config struct {
	Agent      AgentConfig               `yaml:"agent"`
	Server     ServerConfig              `yaml:"server"`
	Dispatcher shipping.DispatcherConfig `yaml:"dispatcher"`
	Sinks      shipping.SinksConfig      `yaml:"sinks"`
	Logging    LoggingConfig             `yaml:"logging"`
	Metrics    MetricsConfig             `yaml:"metrics"`
}

// AgentConfig identifies the sensor and what it watches.
type AgentConfig struct {
	// ID is stamped as the source of every event. Empty generates one.
	ID         string   `yaml:"id"`
	WatchPaths []string `yaml:"watch_paths"`

	// SkipDirs are directory base names never descended into.
	SkipDirs []string `yaml:"skip_dirs"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SystemInterval time.Duration `yaml:"system_interval"`
}

// Load reads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		Agent: AgentConfig{
			WatchPaths: []string{"."},
			SkipDirs:   []string{".git", "node_modules"},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Dispatcher: shipping.DefaultDispatcherConfig(),
		Sinks:      shipping.DefaultSinksConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			SystemInterval: 15 * time.Second,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Agent.ID == "" {
		c.Agent.ID = "agent-" + uuid.NewString()
	}
}

// Validate checks the configuration for values the sensor cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.ID == "" {
		errs = append(errs, fmt.Errorf("%w: agent.id is empty", ErrInvalid))
	}
	if len(c.Agent.WatchPaths) == 0 {
		errs = append(errs, fmt.Errorf("%w: agent.watch_paths is empty", ErrInvalid))
	}
	for _, p := range c.Agent.WatchPaths {
		if p == "" {
			errs = append(errs, fmt.Errorf("%w: agent.watch_paths contains an empty path", ErrInvalid))
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port))
	}

	if c.Dispatcher.Workers < 0 || c.Dispatcher.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("%w: dispatcher workers and batch_size must not be negative", ErrInvalid))
	}

	if len(c.Sinks.Enabled()) == 0 {
		errs = append(errs, fmt.Errorf("%w: no sinks enabled", ErrInvalid))
	}
	if c.Sinks.Splunk.Enabled && c.Sinks.Splunk.HECURL == "" {
		errs = append(errs, fmt.Errorf("%w: sinks.splunk.hec_url is required", ErrInvalid))
	}
	if c.Sinks.Splunk.Enabled && c.Sinks.Splunk.TokenEnv == "" {
		errs = append(errs, fmt.Errorf("%w: sinks.splunk.token_env is required", ErrInvalid))
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("%w: sinks.redis.addr is required", ErrInvalid))
	}
	if c.Sinks.NATS.Enabled && c.Sinks.NATS.URL == "" {
		errs = append(errs, fmt.Errorf("%w: sinks.nats.url is required", ErrInvalid))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format))
	}

	return errors.Join(errs...)
}
