// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Velocity store
	RedisURL string // Redis connection URL (optional, uses in-memory if not set)

	// Message bus
	NATSURL             string
	TransactionsSubject string
	DecisionsSubject    string
	ConsumerDurable     string

	// ML scorer
	MLBaseURL        string
	MLPredictPath    string
	MLTimeout        time.Duration
	MLRetryAttempts  int
	MLRetryBaseDelay time.Duration

	// Circuit breaker
	CBFailureRate    float64
	CBMinimumCalls   int
	CBWindowSize     int
	CBOpenDuration   time.Duration
	CBHalfOpenProbes int

	// Model quality monitor
	MonitorBaselineSize       int
	MonitorRecentSize         int
	MonitorBandLow            float64
	MonitorBandHigh           float64
	MonitorDriftThreshold     float64
	MonitorLowConfidenceAlert float64

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)
}

const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultNATSURL    = "nats://localhost:4222"
	DefaultMLBaseURL  = "http://localhost:8000"
	DefaultMLPath     = "/predict"
	DefaultMLTimeout  = 700 * time.Millisecond
	DefaultCBOpenTime = 30 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisURL:    os.Getenv("REDIS_URL"),    // Optional, uses in-memory if not set

		NATSURL:             getEnv("NATS_URL", DefaultNATSURL),
		TransactionsSubject: getEnv("TRANSACTIONS_SUBJECT", "transactions.created"),
		DecisionsSubject:    getEnv("DECISIONS_SUBJECT", "fraud.decisions"),
		ConsumerDurable:     getEnv("CONSUMER_DURABLE", "fraudguard-processor"),

		MLBaseURL:        getEnv("ML_BASE_URL", DefaultMLBaseURL),
		MLPredictPath:    getEnv("ML_PREDICT_PATH", DefaultMLPath),
		MLTimeout:        getEnvMillis("ML_TIMEOUT_MS", DefaultMLTimeout),
		MLRetryAttempts:  int(getEnvInt64("ML_RETRY_ATTEMPTS", 2)),
		MLRetryBaseDelay: getEnvMillis("ML_RETRY_BASE_DELAY_MS", 50*time.Millisecond),

		CBFailureRate:    getEnvFloat("CB_FAILURE_RATE", 0.5),
		CBMinimumCalls:   int(getEnvInt64("CB_MINIMUM_CALLS", 10)),
		CBWindowSize:     int(getEnvInt64("CB_WINDOW_SIZE", 50)),
		CBOpenDuration:   getEnvMillis("CB_OPEN_DURATION_MS", DefaultCBOpenTime),
		CBHalfOpenProbes: int(getEnvInt64("CB_HALF_OPEN_PROBES", 3)),

		MonitorBaselineSize:       int(getEnvInt64("MONITOR_BASELINE_SIZE", 200)),
		MonitorRecentSize:         int(getEnvInt64("MONITOR_RECENT_SIZE", 400)),
		MonitorBandLow:            getEnvFloat("MONITOR_BAND_LOW", 0.40),
		MonitorBandHigh:           getEnvFloat("MONITOR_BAND_HIGH", 0.60),
		MonitorDriftThreshold:     getEnvFloat("MONITOR_DRIFT_THRESHOLD", 0.12),
		MonitorLowConfidenceAlert: getEnvFloat("MONITOR_LOW_CONFIDENCE_ALERT", 0.45),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.MLBaseURL == "" {
		return fmt.Errorf("ML_BASE_URL is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.CBFailureRate <= 0 || c.CBFailureRate > 1 {
		return fmt.Errorf("CB_FAILURE_RATE must be in (0, 1], got %v", c.CBFailureRate)
	}
	if c.MonitorBandLow >= c.MonitorBandHigh {
		return fmt.Errorf("MONITOR_BAND_LOW (%v) must be below MONITOR_BAND_HIGH (%v)",
			c.MonitorBandLow, c.MonitorBandHigh)
	}
	if c.MLTimeout <= 0 {
		return fmt.Errorf("ML_TIMEOUT_MS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultValue
}
