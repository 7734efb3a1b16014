// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, startup aborts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the procurement service.
type Config struct {
	ServerAddress      string
	PostgresConn       string
	RedisURL           string // optional; notifications become no-ops without it
	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderTimeout    time.Duration
	ExpirySweepMinutes int // how often the bidding-expiry cron fires
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	conn := os.Getenv("POSTGRES_CONN")
	if conn == "" {
		return nil, fmt.Errorf("POSTGRES_CONN is required")
	}

	providerURL := os.Getenv("PROVIDER_BASE_URL")
	if providerURL == "" {
		return nil, fmt.Errorf("PROVIDER_BASE_URL is required")
	}

	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = "0.0.0.0:8080"
	}

	timeout := 10 * time.Second
	if s := os.Getenv("PROVIDER_TIMEOUT_SECONDS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be a positive integer, got %q", s)
		}
		timeout = time.Duration(v) * time.Second
	}

	sweep := 1
	if s := os.Getenv("EXPIRY_SWEEP_MINUTES"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("EXPIRY_SWEEP_MINUTES must be a positive integer, got %q", s)
		}
		sweep = v
	}

	return &Config{
		ServerAddress:      addr,
		PostgresConn:       conn,
		RedisURL:           os.Getenv("REDIS_URL"),
		ProviderBaseURL:    providerURL,
		ProviderAPIKey:     os.Getenv("PROVIDER_API_KEY"),
		ProviderTimeout:    timeout,
		ExpirySweepMinutes: sweep,
	}, nil
}
