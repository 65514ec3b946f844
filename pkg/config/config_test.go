package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"RELAY_HOST", "RELAY_PORT", "RELAY_AUTH_TOKEN", "RELAY_RATE_LIMIT_RPS", "RELAY_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Zero(t, cfg.Port)
	assert.Empty(t, cfg.AuthToken)
	assert.Zero(t, cfg.RateLimitRPS)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RELAY_HOST", "0.0.0.0")
	t.Setenv("RELAY_PORT", "7421")
	t.Setenv("RELAY_AUTH_TOKEN", "secret")
	t.Setenv("RELAY_RATE_LIMIT_RPS", "25.5")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 7421, cfg.Port)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, 25.5, cfg.RateLimitRPS)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RELAY_PORT", "not-a-port")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("RELAY_LOG_LEVEL", "loud")
	_, err := Load()
	require.Error(t, err)
}
