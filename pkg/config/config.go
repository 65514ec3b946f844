// Package config loads daemon settings from the environment. A workspace
// hub needs very little tuning; everything has a sensible default and .env
// files are honoured by the daemon before this runs.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Config is the daemon's runtime configuration.
type Config struct {
	// Host is the listen interface. Loopback by default: the hub is a
	// workspace-local service, not a network one.
	Host string
	// Port is the listen port; 0 picks an ephemeral port published via
	// server.json.
	Port int
	// AuthToken protects the API and stream. Empty means the daemon
	// generates a fresh token at startup.
	AuthToken string
	// RateLimitRPS enables the API rate limiter when > 0.
	RateLimitRPS float64
	// LogLevel is one of debug, info, warn, error.
	LogLevel slog.Level
}

// Load reads configuration from RELAY_* environment variables.
func Load() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("RELAY_PORT", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RELAY_PORT: %w", err)
	}

	var rps float64
	if raw := os.Getenv("RELAY_RATE_LIMIT_RPS"); raw != "" {
		rps, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RELAY_RATE_LIMIT_RPS: %w", err)
		}
	}

	level, err := parseLevel(getEnvOrDefault("RELAY_LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		Host:         getEnvOrDefault("RELAY_HOST", "127.0.0.1"),
		Port:         port,
		AuthToken:    os.Getenv("RELAY_AUTH_TOKEN"),
		RateLimitRPS: rps,
		LogLevel:     level,
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid RELAY_LOG_LEVEL %q", s)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
