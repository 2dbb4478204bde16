package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Port != "8787" {
		t.Errorf("default port = %q, want 8787", cfg.Port)
	}
	if cfg.RoomTTL != 10*time.Minute {
		t.Errorf("default room TTL = %v, want 10m", cfg.RoomTTL)
	}
	if cfg.ReapInterval != time.Minute {
		t.Errorf("default reap interval = %v, want 1m", cfg.ReapInterval)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("default origins = %v", cfg.AllowedOrigins)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("WEB_ORIGIN", "https://a.example, https://b.example")
	t.Setenv("ROOM_TTL_MS", "5000")
	t.Setenv("REAP_INTERVAL_MS", "250")

	cfg := FromEnv()
	if cfg.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Port)
	}
	if cfg.RoomTTL != 5*time.Second {
		t.Errorf("room TTL = %v, want 5s", cfg.RoomTTL)
	}
	if cfg.ReapInterval != 250*time.Millisecond {
		t.Errorf("reap interval = %v, want 250ms", cfg.ReapInterval)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
}

func TestFromEnvBadIntFallsBack(t *testing.T) {
	t.Setenv("ROOM_TTL_MS", "not-a-number")
	if cfg := FromEnv(); cfg.RoomTTL != 10*time.Minute {
		t.Errorf("bad ROOM_TTL_MS should fall back to default, got %v", cfg.RoomTTL)
	}
}

func TestAllowsOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"https://a.example"}, "https://a.example", true},
		{"no match", []string{"https://a.example"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"second entry", []string{"https://a.example", "https://b.example"}, "https://b.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{AllowedOrigins: tt.origins}
			if got := cfg.AllowsOrigin(tt.origin); got != tt.want {
				t.Errorf("AllowsOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
