package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9000"
  allowed_origins: ["https://a.example"]
redis:
  addr: localhost:6379
  ttl: 2h
campaigns:
  ttl: 5m
engine:
  seed: 7
  sweep_batch: 50
`), 0o600))

	clearEnv(t)
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, int64(7), cfg.Engine.Seed)
	assert.Equal(t, 50, cfg.Engine.SweepBatch)
	assert.Equal(t, 2*time.Hour, TTLDuration(cfg.Redis.TTL, time.Minute))
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestTTLDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, TTLDuration("", time.Minute))
	assert.Equal(t, time.Minute, TTLDuration("soon", time.Minute))
	assert.Equal(t, 90*time.Second, TTLDuration("90s", time.Minute))
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"PORT", "GIN_MODE", "ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT", "REDIS_ADDR", "POSTGRES_URL", "ENGINE_SEED"} {
		t.Setenv(key, "")
	}
}
