package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	RedisURL    string
	DatabaseURL string

	// CatalogPath optionally overlays the built-in model catalog.
	CatalogPath string
	// TiersPath optionally replaces the built-in tier table.
	TiersPath string

	// EncryptionKey decrypts "enc:" auth values in the catalog overlay.
	EncryptionKey string

	// RefillSecretHash and AdminSecretHash are bcrypt hashes of the
	// respective shared secrets. Empty disables the endpoint.
	RefillSecretHash string
	AdminSecretHash  string

	// EventsEndpoint receives NDJSON audit and generation events.
	EventsEndpoint string
	EventsToken    string
	Environment    string

	// SNSTopicARN optionally fans events out to SNS as well.
	SNSTopicARN string

	AWSRegion    string
	OTLPEndpoint string

	UpstreamTimeout time.Duration
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:             getEnv("ADDR", ":8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RedisURL:         getEnv("REDIS_URL", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
		TiersPath:        getEnv("TIERS_PATH", ""),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
		RefillSecretHash: getEnv("REFILL_SECRET_HASH", ""),
		AdminSecretHash:  getEnv("ADMIN_SECRET_HASH", ""),
		EventsEndpoint:   getEnv("EVENTS_ENDPOINT", ""),
		EventsToken:      getEnv("EVENTS_TOKEN", ""),
		Environment:      getEnv("ENVIRONMENT", "production"),
		SNSTopicARN:      getEnv("SNS_TOPIC_ARN", ""),
		AWSRegion:        getEnv("AWS_REGION", ""),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", ""),
		UpstreamTimeout:  getDurationEnv("UPSTREAM_TIMEOUT", 120*time.Second),
		ShutdownTimeout:  getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:     getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
