// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"authgate.dev/internal/token"
)

// Config is the full runtime configuration for the service.
type Config struct {
	ListenAddr string
	Env        string // development | production

	// Empty DSN selects the in-memory store; useful for local runs and CI.
	DatabaseDSN     string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLife   time.Duration

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration

	Argon2Memory      uint32 // KiB
	Argon2Time        uint32
	Argon2Parallelism uint8

	MaxLoginAttempts int
	LockoutWindow    time.Duration

	SweepSchedule string // cron expression

	RateLimitPerSecond float64
	RateLimitBurst     int

	CORSOrigin   string
	MaxBodyBytes int64
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         getEnv("AUTHGATE_LISTEN_ADDR", ":8080"),
		Env:                getEnv("AUTHGATE_ENV", "development"),
		DatabaseDSN:        os.Getenv("AUTHGATE_PG_DSN"),
		DBMaxOpenConns:     getEnvInt("AUTHGATE_DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:     getEnvInt("AUTHGATE_DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLife:      30 * time.Minute,
		JWTSecret:          os.Getenv("AUTHGATE_JWT_SECRET"),
		JWTIssuer:          getEnv("AUTHGATE_JWT_ISSUER", "authgate"),
		Argon2Memory:       uint32(getEnvInt("AUTHGATE_ARGON2_MEMORY_KIB", 65536)),
		Argon2Time:         uint32(getEnvInt("AUTHGATE_ARGON2_TIME", 3)),
		Argon2Parallelism:  uint8(getEnvInt("AUTHGATE_ARGON2_PARALLELISM", 4)),
		MaxLoginAttempts:   getEnvInt("AUTHGATE_MAX_LOGIN_ATTEMPTS", 10),
		SweepSchedule:      getEnv("AUTHGATE_SWEEP_SCHEDULE", "0 * * * *"),
		RateLimitPerSecond: float64(getEnvInt("AUTHGATE_RATE_LIMIT_RPS", 20)),
		RateLimitBurst:     getEnvInt("AUTHGATE_RATE_LIMIT_BURST", 40),
		CORSOrigin:         getEnv("AUTHGATE_CORS_ORIGIN", "*"),
		MaxBodyBytes:       int64(getEnvInt("AUTHGATE_MAX_BODY_BYTES", 1<<20)),
	}

	var err error
	if cfg.AccessTTL, err = getEnvDuration("AUTHGATE_ACCESS_TTL", "15m"); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = getEnvDuration("AUTHGATE_REFRESH_TTL", "7d"); err != nil {
		return nil, err
	}
	if cfg.ResetTTL, err = getEnvDuration("AUTHGATE_RESET_TTL", "1h"); err != nil {
		return nil, err
	}
	if cfg.LockoutWindow, err = getEnvDuration("AUTHGATE_LOCKOUT_WINDOW", "30m"); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: AUTHGATE_JWT_SECRET is required")
	}
	if c.Env == "production" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("config: AUTHGATE_JWT_SECRET must be at least 32 bytes in production")
	}
	if c.MaxLoginAttempts <= 0 {
		return fmt.Errorf("config: AUTHGATE_MAX_LOGIN_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

// getEnvDuration parses durations in the service's own grammar, which
// unlike time.ParseDuration supports day and week units ("7d", "2w").
func getEnvDuration(key, fallback string) (time.Duration, error) {
	v := getEnv(key, fallback)
	d, err := token.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
