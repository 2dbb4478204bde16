// Package config reads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server's runtime settings.
type Config struct {
	Port           string
	AllowedOrigins []string
	RoomTTL        time.Duration
	ReapInterval   time.Duration
	LogLevel       string
}

// FromEnv reads configuration with defaults. WEB_ORIGIN may be a
// comma-separated list; "*" allows any origin.
func FromEnv() Config {
	return Config{
		Port:           getEnv("PORT", "8787"),
		AllowedOrigins: splitOrigins(getEnv("WEB_ORIGIN", "http://localhost:3000")),
		RoomTTL:        time.Duration(getEnvAsInt("ROOM_TTL_MS", 10*60*1000)) * time.Millisecond,
		ReapInterval:   time.Duration(getEnvAsInt("REAP_INTERVAL_MS", 60*1000)) * time.Millisecond,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// AllowsOrigin reports whether a request origin is permitted.
func (c Config) AllowsOrigin(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
