package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultNATSURL, cfg.NATSURL)
	assert.Equal(t, "transactions.created", cfg.TransactionsSubject)
	assert.Equal(t, "fraud.decisions", cfg.DecisionsSubject)
	assert.Equal(t, DefaultMLBaseURL, cfg.MLBaseURL)
	assert.Equal(t, DefaultMLTimeout, cfg.MLTimeout)
	assert.Equal(t, 0.5, cfg.CBFailureRate)
	assert.Equal(t, 200, cfg.MonitorBaselineSize)
	assert.Equal(t, 0.12, cfg.MonitorDriftThreshold)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "ML_BASE_URL", "http://scorer:9000")
	setEnv(t, "ML_TIMEOUT_MS", "1500")
	setEnv(t, "CB_MINIMUM_CALLS", "25")
	setEnv(t, "MONITOR_BAND_LOW", "0.35")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://scorer:9000", cfg.MLBaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.MLTimeout)
	assert.Equal(t, 25, cfg.CBMinimumCalls)
	assert.Equal(t, 0.35, cfg.MonitorBandLow)
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		MLBaseURL:       "http://localhost:8000",
		NATSURL:         DefaultNATSURL,
		CBFailureRate:   0.5,
		MonitorBandLow:  0.40,
		MonitorBandHigh: 0.60,
		MLTimeout:       700 * time.Millisecond,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing ML base URL",
			mutate:  func(c *Config) { c.MLBaseURL = "" },
			wantErr: "ML_BASE_URL is required",
		},
		{
			name:    "missing NATS URL",
			mutate:  func(c *Config) { c.NATSURL = "" },
			wantErr: "NATS_URL is required",
		},
		{
			name:    "failure rate above 1",
			mutate:  func(c *Config) { c.CBFailureRate = 1.5 },
			wantErr: "CB_FAILURE_RATE",
		},
		{
			name:    "inverted confidence band",
			mutate:  func(c *Config) { c.MonitorBandLow, c.MonitorBandHigh = 0.6, 0.4 },
			wantErr: "MONITOR_BAND_LOW",
		},
		{
			name:    "non-positive ML timeout",
			mutate:  func(c *Config) { c.MLTimeout = 0 },
			wantErr: "ML_TIMEOUT_MS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvFloat(t *testing.T) {
	setEnv(t, "TEST_FLOAT", "0.25")
	setEnv(t, "TEST_FLOAT_BAD", "zero point two")

	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 0))
	assert.Equal(t, 0.9, getEnvFloat("NONEXISTENT_VAR", 0.9))
	assert.Equal(t, 0.9, getEnvFloat("TEST_FLOAT_BAD", 0.9))
}

func TestGetEnvMillis(t *testing.T) {
	setEnv(t, "TEST_MS", "250")

	assert.Equal(t, 250*time.Millisecond, getEnvMillis("TEST_MS", time.Second))
	assert.Equal(t, time.Second, getEnvMillis("NONEXISTENT_VAR", time.Second))
}
