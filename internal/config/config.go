package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime setting of the service. Values come from
// the environment, with an optional .env file for local development.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	AuthSecret string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	PostgresDSN   string
	MigrationsDir string

	RateLimitPerSecond int
	RateLimitBurst     int
}

const (
	defaultHTTPAddr   = ":8080"
	defaultGRPCAddr   = ":9090"
	defaultIssuer     = "uniadmit-api"
	defaultAccessTTL  = 24 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
	defaultMigrations = "migrations/postgres"
	defaultRateLimit  = 50
	defaultRateBurst  = 100
)

// Load reads configuration from the environment. A missing signing
// secret is an error; callers treat it as fatal at startup.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is the common case.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:           envString("UNIADMIT_HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:           envString("UNIADMIT_GRPC_ADDR", defaultGRPCAddr),
		AuthSecret:         strings.TrimSpace(os.Getenv("UNIADMIT_AUTH_SECRET")),
		Issuer:             envString("UNIADMIT_ISSUER", defaultIssuer),
		AccessTTL:          envDuration("UNIADMIT_ACCESS_TTL", defaultAccessTTL),
		RefreshTTL:         envDuration("UNIADMIT_REFRESH_TTL", defaultRefreshTTL),
		PostgresDSN:        strings.TrimSpace(os.Getenv("UNIADMIT_PG_DSN")),
		MigrationsDir:      envString("UNIADMIT_MIGRATIONS_DIR", defaultMigrations),
		RateLimitPerSecond: envInt("UNIADMIT_RATE_LIMIT", defaultRateLimit),
		RateLimitBurst:     envInt("UNIADMIT_RATE_BURST", defaultRateBurst),
	}
	if cfg.AuthSecret == "" {
		return nil, errors.New("config: UNIADMIT_AUTH_SECRET is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("config: token lifetimes must be positive")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
