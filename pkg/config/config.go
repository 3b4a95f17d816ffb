package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi)
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	return lookup(key, fallback, strconv.ParseBool)
}

// GetFloat retrieves an environment variable as float64 or returns fallback.
func GetFloat(key string, fallback float64) float64 {
	return lookup(key, fallback, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetDuration retrieves an environment variable as time.Duration ("90s", "15m")
// or returns fallback.
func GetDuration(key string, fallback time.Duration) time.Duration {
	return lookup(key, fallback, time.ParseDuration)
}

// lookup parses key with parse. Unset or blank keys yield fallback, as do
// unparsable ones, which are logged.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := parse(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("invalid config value, using default", "key", key, "error", err)
		return fallback
	}
	return parsed
}
