// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	AllowedOrigin   string
	PlatformURL     string
	PlatformAPIKey  string
	PlatformTimeout time.Duration
	PollInterval    time.Duration
	QuietInterval   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBPath:          getEnv("DB_PATH", "./data/tradefeed.db"),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "*"),
		PlatformURL:     getEnv("PLATFORM_URL", ""),
		PlatformAPIKey:  getEnv("PLATFORM_API_KEY", ""),
		PlatformTimeout: getEnvDuration("PLATFORM_TIMEOUT", 30*time.Second),
		PollInterval:    getEnvDuration("POLL_INTERVAL", 30*time.Second),
		QuietInterval:   getEnvDuration("SWEEP_QUIET_INTERVAL", time.Second),
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
	if c.PlatformURL == "" {
		return fmt.Errorf("PLATFORM_URL cannot be empty")
	}
	if strings.HasSuffix(c.PlatformURL, "/") {
		return fmt.Errorf("PLATFORM_URL must not end with a slash")
	}
	if c.PlatformAPIKey == "" {
		return fmt.Errorf("PLATFORM_API_KEY cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.QuietInterval <= 0 {
		return fmt.Errorf("SWEEP_QUIET_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	trimmed := strings.TrimSpace(value)
	// Accept bare seconds for operator convenience.
	if n, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
