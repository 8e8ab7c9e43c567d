// Package config loads process configuration from the environment, the
// same requireEnv/getEnvOrDefault shape the teacher's cmd/engine/main.go
// uses — no config library in the retrieval pack models a better fit for a
// handful of scalar settings (see SPEC_FULL.md §0.2).
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the engine's process-wide settings.
type Config struct {
	DatabaseURL   string
	Port          string
	AuthToken     string
	LogLevel      string
	RateLimitRPM  int
	RateLimitBurst int
}

// Load reads Config from the environment. It returns an error only for
// required values with no safe default; everything else falls back.
func Load() (Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}

	return Config{
		DatabaseURL:    dbURL,
		Port:           getEnvOrDefault("PORT", "8080"),
		AuthToken:      os.Getenv("API_AUTH_TOKEN"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		RateLimitRPM:   getEnvIntOrDefault("RATE_LIMIT_RPM", 60),
		RateLimitBurst: getEnvIntOrDefault("RATE_LIMIT_BURST", 10),
	}, nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
