// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all engine configuration.
type Config struct {
	Port           string
	DBPath         string
	RemoteURL      string // websocket URL of the remote session service
	SyncURL        string // HTTP endpoint for record sync, empty disables
	AuthToken      string
	CoachTier      string // "free" or "premium"
	CoachGRPCAddr  string // premium coaching provider address, empty disables
	CaptureBackend string // "device" or "mock"

	ConnectTimeout  time.Duration
	BatteryInterval time.Duration
	ThermalInterval time.Duration
	SyncInterval    time.Duration
	SyncRetention   time.Duration

	SessionQuota int
}

// Coach tier values for Config.CoachTier.
const (
	CoachTierFree    = "free"
	CoachTierPremium = "premium"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/poise.db"),
		RemoteURL:      getEnv("REMOTE_SESSION_URL", "wss://sessions.poise.app/ws"),
		SyncURL:        getEnv("REMOTE_SYNC_URL", ""),
		AuthToken:      getEnv("SESSION_AUTH_TOKEN", ""),
		CoachTier:      getEnv("COACH_TIER", CoachTierFree),
		CoachGRPCAddr:  getEnv("COACH_GRPC_ADDR", ""),
		CaptureBackend: getEnv("CAPTURE_BACKEND", "device"),

		ConnectTimeout:  getEnvDuration("TRANSPORT_CONNECT_TIMEOUT", 10*time.Second),
		BatteryInterval: getEnvDuration("BATTERY_SAMPLE_INTERVAL", 30*time.Second),
		ThermalInterval: getEnvDuration("THERMAL_SAMPLE_INTERVAL", 60*time.Second),
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", time.Minute),
		SyncRetention:   getEnvDuration("SYNC_RETENTION", 7*24*time.Hour),

		SessionQuota: getEnvInt("SESSION_QUOTA", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.RemoteURL == "" {
		return fmt.Errorf("REMOTE_SESSION_URL cannot be empty")
	}
	if c.CoachTier != CoachTierFree && c.CoachTier != CoachTierPremium {
		return fmt.Errorf("COACH_TIER must be %q or %q", CoachTierFree, CoachTierPremium)
	}
	if c.CoachTier == CoachTierPremium && c.CoachGRPCAddr == "" {
		return fmt.Errorf("COACH_GRPC_ADDR required for premium coach tier")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("TRANSPORT_CONNECT_TIMEOUT must be > 0")
	}
	if c.SessionQuota < 0 {
		return fmt.Errorf("SESSION_QUOTA cannot be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.Contains(c.RemoteURL, "localhost") ||
		strings.Contains(c.RemoteURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
