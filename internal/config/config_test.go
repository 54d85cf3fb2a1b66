package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 7*time.Second, cfg.Story.SegmentDuration)
	require.Equal(t, 60, cfg.Story.TicksPerSecond)
	require.True(t, cfg.Story.AutoDismiss)
	require.Equal(t, StorageMemory, cfg.Storage.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.Progress.BatchWait())
	require.Equal(t, 5*time.Second, cfg.Progress.SinkTimeout())
	require.Empty(t, cfg.Database.DSN)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
story:
  segment_duration: 5s
  ticks_per_second: 30
  auto_dismiss: false
  max_sessions: 16
loop:
  buffer_size: 64
ratelimit:
  gestures_per_second: 2.5
  burst: 3
progress:
  log_enabled: true
  batch:
    max_events: 32
    max_wait_ms: 100
storage:
  backend: local
  prefix: timelines
  local:
    base_dir: /tmp/stories
database:
  dsn: postgres://localhost/stories
  max_conns: 8
  max_conn_lifetime: 1h
pubsub:
  project_id: demo
  topic_name: done
logging:
  development: false
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 5*time.Second, cfg.Story.SegmentDuration)
	require.Equal(t, 30, cfg.Story.TicksPerSecond)
	require.False(t, cfg.Story.AutoDismiss)
	require.Equal(t, 16, cfg.Story.MaxSessions)
	require.Equal(t, 64, cfg.Loop.BufferSize)
	require.InDelta(t, 2.5, cfg.RateLimit.GesturesPerSecond, 1e-9)
	require.Equal(t, 3, cfg.RateLimit.Burst)
	require.True(t, cfg.Progress.LogEnabled)
	require.Equal(t, 32, cfg.Progress.Batch.MaxEvents)
	require.Equal(t, StorageLocal, cfg.Storage.Backend)
	require.Equal(t, "/tmp/stories", cfg.Storage.Local.BaseDir)
	require.Equal(t, int32(8), cfg.Database.MaxConns)
	require.Equal(t, time.Hour, cfg.Database.MaxConnLifetime)
	require.Equal(t, "done", cfg.PubSub.TopicName)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "zero duration", mutate: func(c *Config) { c.Story.SegmentDuration = 0 }, want: "story.segment_duration"},
		{name: "zero tick rate", mutate: func(c *Config) { c.Story.TicksPerSecond = 0 }, want: "story.ticks_per_second"},
		{name: "zero sessions", mutate: func(c *Config) { c.Story.MaxSessions = 0 }, want: "story.max_sessions"},
		{name: "zero loop buffer", mutate: func(c *Config) { c.Loop.BufferSize = 0 }, want: "loop.buffer_size"},
		{name: "negative gesture rate", mutate: func(c *Config) { c.RateLimit.GesturesPerSecond = -1 }, want: "ratelimit"},
		{name: "sample ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 2 }, want: "tracing.sample_ratio"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.bucket"},
		{
			name: "local without dir",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageLocal
				c.Storage.Local.BaseDir = ""
			},
			want: "storage.local.base_dir",
		},
		{
			name: "pubsub without topic",
			mutate: func(c *Config) {
				c.PubSub.ProjectID = "demo"
				c.PubSub.TopicName = ""
			},
			want: "pubsub.topic_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}
