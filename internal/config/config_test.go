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

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "sk_test_abc")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc")
	setEnv(t, "SWEEP_SECRET", "sweep_abc")
	setEnv(t, "PORT", "9090")
	setEnv(t, "ESCROW_HOLD", "96h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultCommissionBps, cfg.CommissionBps)
	assert.Equal(t, 96*time.Hour, cfg.EscrowHold)
	assert.Equal(t, int64(DefaultMinOfferCents), cfg.MinOfferCents)
}

func TestLoad_MissingStripeKey(t *testing.T) {
	setEnv(t, "STRIPE_SECRET_KEY", "")
	setEnv(t, "STRIPE_WEBHOOK_SECRET", "whsec_abc")
	setEnv(t, "SWEEP_SECRET", "sweep_abc")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		StripeSecretKey:     "sk_test_abc",
		StripeWebhookSecret: "whsec_abc",
		SweepSecret:         "sweep_abc",
		CommissionBps:       2000,
		MinOfferCents:       100,
		EscrowHold:          7 * 24 * time.Hour,
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
			name:    "missing webhook secret",
			mutate:  func(c *Config) { c.StripeWebhookSecret = "" },
			wantErr: "STRIPE_WEBHOOK_SECRET is required",
		},
		{
			name:    "missing sweep secret",
			mutate:  func(c *Config) { c.SweepSecret = "" },
			wantErr: "SWEEP_SECRET is required",
		},
		{
			name:    "commission out of range",
			mutate:  func(c *Config) { c.CommissionBps = 10001 },
			wantErr: "COMMISSION_BPS",
		},
		{
			name:    "zero offer floor",
			mutate:  func(c *Config) { c.MinOfferCents = 0 },
			wantErr: "MIN_OFFER_CENTS",
		},
		{
			name:    "zero escrow hold",
			mutate:  func(c *Config) { c.EscrowHold = 0 },
			wantErr: "ESCROW_HOLD",
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

func TestGetEnvHelpers(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_DUR", "36h")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, 36*time.Hour, getEnvDuration("TEST_DUR", time.Hour))
	assert.Equal(t, time.Hour, getEnvDuration("TEST_INVALID", time.Hour))
}
