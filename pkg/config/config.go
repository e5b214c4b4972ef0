package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Cache drivers.
const (
	CacheDriverFile   = "file"
	CacheDriverSQLite = "sqlite"
	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// Backend
	APIURL          string
	RequestTimeout  time.Duration
	BreakerFailures int
	BreakerTimeout  time.Duration

	// Session
	UserID       string
	AccessToken  string
	RefreshToken string

	// OAuth
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string

	// Cache
	CacheDriver   string
	CachePath     string
	RedisURL      string
	EncryptionKey string

	// Payments
	MaxProofBytes int64

	// Watch
	PhaseTick time.Duration

	// RabbitMQ; empty disables event publishing.
	RabbitMQURL string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		APIURL:          getEnv("BILLCYCLE_API_URL", "http://localhost:8080/api"),
		RequestTimeout:  getDurationEnv("BILLCYCLE_REQUEST_TIMEOUT", 15*time.Second),
		BreakerFailures: getIntEnv("BILLCYCLE_BREAKER_FAILURES", 5),
		BreakerTimeout:  getDurationEnv("BILLCYCLE_BREAKER_TIMEOUT", 30*time.Second),

		UserID:       getEnv("BILLCYCLE_USER_ID", ""),
		AccessToken:  getEnv("BILLCYCLE_ACCESS_TOKEN", ""),
		RefreshToken: getEnv("BILLCYCLE_REFRESH_TOKEN", ""),

		OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", ""),

		CacheDriver:   getEnv("BILLCYCLE_CACHE_DRIVER", CacheDriverFile),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		EncryptionKey: getEnv("BILLCYCLE_ENCRYPTION_KEY", ""),

		MaxProofBytes: getInt64Env("BILLCYCLE_MAX_PROOF_BYTES", 10<<20),
		PhaseTick:     getDurationEnv("BILLCYCLE_PHASE_TICK", time.Minute),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
	}
	cfg.CachePath = getEnv("BILLCYCLE_CACHE_PATH", defaultCachePath(cfg.CacheDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the container cannot wire.
func (c *Config) Validate() error {
	switch c.CacheDriver {
	case CacheDriverFile, CacheDriverSQLite, CacheDriverRedis, CacheDriverMemory:
	default:
		return fmt.Errorf("unsupported cache driver %q", c.CacheDriver)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxProofBytes <= 0 {
		return fmt.Errorf("max proof bytes must be positive, got %d", c.MaxProofBytes)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// OAuthEnabled reports whether tokens can be refreshed.
func (c *Config) OAuthEnabled() bool {
	return c.OAuthClientID != "" && c.OAuthTokenURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func defaultCachePath(driver string) string {
	name := "subscription.json"
	if driver == CacheDriverSQLite {
		name = "billcycle.db"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".billcycle", name)
	}
	return filepath.Join(home, ".billcycle", name)
}
