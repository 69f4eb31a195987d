package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	NumWorkers   int
	PollInterval time.Duration
	ClaimTTL     time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	FillTimeout  time.Duration

	ExchangeURL     string
	ExchangeDataURL string
	ExchangeKeyID   string
	ExchangeSecret  string
	AssetSymbol     string

	LedgerURL   string
	LedgerToken string
	AdminWallet string

	// Requests per second allowed to each collaborator, enforced across
	// every process through Redis.
	ExchangeRateLimit int
	LedgerRateLimit   int
	BreakerThreshold  int
	BreakerCooldown   time.Duration

	JWTSecret    string
	ServiceToken string
	APIRateLimit float64
	APIBurst     int

	KafkaBrokers []string
	KafkaTopic   string

	OTLPEndpoint   string
	MetricInterval time.Duration
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables without
// validating it.
func FromEnv() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		NumWorkers:   getEnvInt("NUM_WORKERS", 20),
		PollInterval: getEnvDuration("POLL_INTERVAL", 2500*time.Millisecond),
		ClaimTTL:     getEnvDuration("CLAIM_TTL", 5*time.Minute),
		MaxAttempts:  getEnvInt("MAX_ATTEMPTS", 5),
		RetryBase:    getEnvDuration("RETRY_BASE_DELAY", 5*time.Second),
		FillTimeout:  getEnvDuration("FILL_TIMEOUT", 2*time.Minute),

		ExchangeURL:     getEnv("EXCHANGE_URL", "https://paper-api.alpaca.markets"),
		ExchangeDataURL: getEnv("EXCHANGE_DATA_URL", "https://data.alpaca.markets"),
		ExchangeKeyID:   getEnv("EXCHANGE_KEY_ID", ""),
		ExchangeSecret:  getEnv("EXCHANGE_SECRET", ""),
		AssetSymbol:     getEnv("ASSET_SYMBOL", "SPY"),

		LedgerURL:   getEnv("LEDGER_URL", ""),
		LedgerToken: getEnv("LEDGER_TOKEN", ""),
		AdminWallet: getEnv("ADMIN_WALLET", ""),

		ExchangeRateLimit: getEnvInt("EXCHANGE_RATE_LIMIT", 3),
		LedgerRateLimit:   getEnvInt("LEDGER_RATE_LIMIT", 5),
		BreakerThreshold:  getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:   getEnvDuration("BREAKER_COOLDOWN", 30*time.Second),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		ServiceToken: getEnv("SERVICE_TOKEN", ""),
		APIRateLimit: getEnvFloat("API_RATE_LIMIT", 10),
		APIBurst:     getEnvInt("API_BURST", 20),

		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "settlement-events"),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricInterval: getEnvDuration("OTEL_METRIC_INTERVAL", 30*time.Second),
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.LedgerURL == "" {
		return fmt.Errorf("LEDGER_URL is required")
	}
	if c.AdminWallet == "" {
		return fmt.Errorf("ADMIN_WALLET is required")
	}
	if c.JWTSecret == "" || c.ServiceToken == "" {
		return fmt.Errorf("JWT_SECRET and SERVICE_TOKEN are required")
	}
	if c.NumWorkers < 1 {
		return fmt.Errorf("NUM_WORKERS must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
