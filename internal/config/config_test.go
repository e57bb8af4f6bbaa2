package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lvonguyen/edrsensor/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, strings.HasPrefix(cfg.Agent.ID, "agent-"))
	assert.Equal(t, []string{"stdout"}, cfg.Sinks.Enabled())
	assert.Equal(t, events.SeverityInfo, cfg.Dispatcher.MinSeverity)
}

func TestDefaultConfigGeneratesDistinctIDs(t *testing.T) {
	assert.NotEqual(t, DefaultConfig().Agent.ID, DefaultConfig().Agent.ID)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
agent:
  id: sensor-42
  watch_paths: [/srv/data, /home]
  skip_dirs: [.cache]
server:
  port: 9090
dispatcher:
  workers: 4
  batch_size: 50
  flush_interval: 500ms
  min_severity: High
sinks:
  stdout:
    enabled: false
  redis:
    enabled: true
    addr: redis:6379
    stream: edr:events
  nats:
    enabled: true
    url: nats://nats:4222
    subject_prefix: sec
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sensor-42", cfg.Agent.ID)
	assert.Equal(t, []string{"/srv/data", "/home"}, cfg.Agent.WatchPaths)
	assert.Equal(t, []string{".cache"}, cfg.Agent.SkipDirs)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "defaults survive partial sections")
	assert.Equal(t, 4, cfg.Dispatcher.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatcher.FlushInterval)
	assert.Equal(t, events.SeverityHigh, cfg.Dispatcher.MinSeverity)
	assert.Equal(t, []string{"redis", "nats"}, cfg.Sinks.Enabled())
	assert.Equal(t, "edr:events", cfg.Sinks.Redis.Stream)
	assert.Equal(t, int64(100000), cfg.Sinks.Redis.MaxLen)
	assert.Equal(t, "sec", cfg.Sinks.NATS.SubjectPrefix)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadEmptyIDGenerated(t *testing.T) {
	cfg, err := Load(writeConfig(t, "agent:\n  id: \"\"\n"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cfg.Agent.ID, "agent-"))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = Load(writeConfig(t, "dispatcher:\n  min_severity: Severe\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, events.ErrDecode)

	_, err = Load(writeConfig(t, "agent: [not, a, map]\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no watch paths", func(c *Config) { c.Agent.WatchPaths = nil }, "agent.watch_paths is empty"},
		{"empty watch path", func(c *Config) { c.Agent.WatchPaths = []string{""} }, "empty path"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no sinks", func(c *Config) { c.Sinks.Stdout.Enabled = false }, "no sinks enabled"},
		{"splunk without url", func(c *Config) { c.Sinks.Splunk.Enabled = true }, "hec_url"},
		{"redis without addr", func(c *Config) { c.Sinks.Redis.Enabled = true; c.Sinks.Redis.Addr = "" }, "sinks.redis.addr"},
		{"nats without url", func(c *Config) { c.Sinks.NATS.Enabled = true; c.Sinks.NATS.URL = "" }, "sinks.nats.url"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"negative workers", func(c *Config) { c.Dispatcher.Workers = -1 }, "dispatcher"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateServerDisabledIgnoresPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Enabled = false
	cfg.Server.Port = 0
	assert.NoError(t, cfg.Validate())
}
