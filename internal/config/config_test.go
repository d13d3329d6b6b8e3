package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DBPath != "./data/poise.db" {
		t.Errorf("Expected default db path, got %s", cfg.DBPath)
	}
	if cfg.CoachTier != CoachTierFree {
		t.Errorf("Expected free coach tier, got %s", cfg.CoachTier)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("Expected 10s connect timeout, got %v", cfg.ConnectTimeout)
	}
	if cfg.SyncRetention != 7*24*time.Hour {
		t.Errorf("Expected 7d sync retention, got %v", cfg.SyncRetention)
	}
	if cfg.SessionQuota != 5 {
		t.Errorf("Expected default quota 5, got %d", cfg.SessionQuota)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("COACH_TIER", "premium")
	t.Setenv("COACH_GRPC_ADDR", "coach.internal:50051")
	t.Setenv("TRANSPORT_CONNECT_TIMEOUT", "3s")
	t.Setenv("SESSION_QUOTA", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", cfg.Port)
	}
	if cfg.CoachTier != CoachTierPremium || cfg.CoachGRPCAddr != "coach.internal:50051" {
		t.Errorf("Coach config not applied: %s/%s", cfg.CoachTier, cfg.CoachGRPCAddr)
	}
	if cfg.ConnectTimeout != 3*time.Second {
		t.Errorf("Expected 3s connect timeout, got %v", cfg.ConnectTimeout)
	}
	if cfg.SessionQuota != 10 {
		t.Errorf("Expected quota 10, got %d", cfg.SessionQuota)
	}
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_QUOTA", "not-a-number")
	t.Setenv("TRANSPORT_CONNECT_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionQuota != 5 {
		t.Errorf("Expected fallback quota 5, got %d", cfg.SessionQuota)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("Expected fallback timeout 10s, got %v", cfg.ConnectTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:           "8080",
			DBPath:         "./data/poise.db",
			RemoteURL:      "wss://sessions.poise.app/ws",
			CoachTier:      CoachTierFree,
			ConnectTimeout: 10 * time.Second,
			SessionQuota:   5,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"empty db path", func(c *Config) { c.DBPath = "" }, "DB_PATH"},
		{"empty remote url", func(c *Config) { c.RemoteURL = "" }, "REMOTE_SESSION_URL"},
		{"unknown coach tier", func(c *Config) { c.CoachTier = "platinum" }, "COACH_TIER"},
		{"premium without grpc addr", func(c *Config) { c.CoachTier = CoachTierPremium }, "COACH_GRPC_ADDR"},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, "TRANSPORT_CONNECT_TIMEOUT"},
		{"negative quota", func(c *Config) { c.SessionQuota = -1 }, "SESSION_QUOTA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid config, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{RemoteURL: "ws://localhost:8081/ws"}
	if !cfg.IsDevelopment() {
		t.Error("Expected localhost URL to be development")
	}
	cfg.RemoteURL = "wss://sessions.poise.app/ws"
	if cfg.IsDevelopment() {
		t.Error("Expected production URL not to be development")
	}
}
