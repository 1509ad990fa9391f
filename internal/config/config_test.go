package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.GoEnv)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.LayerBackend)
	assert.Equal(t, 100, cfg.ChannelCapacity)
	assert.Equal(t, 60*time.Second, cfg.ChannelExpiry)
	assert.Equal(t, 24*time.Hour, cfg.GroupExpiry)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, "chanhub", cfg.RedisPrefix)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Empty(t, cfg.JWTSecret)

	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LAYER_BACKEND", "redis")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("CHANNEL_CAPACITY", "10")
	t.Setenv("CHANNEL_EXPIRY", "5s")
	t.Setenv("GROUP_EXPIRY", "1h")
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "redis", cfg.LayerBackend)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 10, cfg.ChannelCapacity)
	assert.Equal(t, 5*time.Second, cfg.ChannelExpiry)
	assert.Equal(t, time.Hour, cfg.GroupExpiry)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
}

func TestLoadConfigBadValues(t *testing.T) {
	t.Setenv("HTTP_PORT", "not-a-port")
	_, err := LoadConfig()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
}

func TestLoadConfigBadDuration(t *testing.T) {
	t.Setenv("CHANNEL_EXPIRY", "sixty seconds")
	_, err := LoadConfig()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CHANNEL_EXPIRY")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.HTTPPort = 0 }, "HTTP_PORT"},
		{"bad backend", func(c *Config) { c.LayerBackend = "kafka" }, "LAYER_BACKEND"},
		{"bad capacity", func(c *Config) { c.ChannelCapacity = 0 }, "CHANNEL_CAPACITY"},
		{"bad expiry", func(c *Config) { c.ChannelExpiry = 0 }, "CHANNEL_EXPIRY"},
		{"bad concurrency", func(c *Config) { c.WorkerConcurrency = 0 }, "WORKER_CONCURRENCY"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"redis without url", func(c *Config) { c.LayerBackend = "redis"; c.RedisURL = "" }, "REDIS_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedisAddr(t *testing.T) {
	cfg := &Config{RedisURL: "redis://localhost:6379"}
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())

	cfg.RedisURL = "cache:6380"
	assert.Equal(t, "cache:6380", cfg.RedisAddr())

	cfg.RedisURL = "redis://cache:6380/"
	assert.Equal(t, "cache:6380", cfg.RedisAddr())
}
