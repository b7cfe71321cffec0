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

	// Stripe
	StripeSecretKey     string // sk_... API key
	StripeWebhookSecret string // whsec_... endpoint signing secret

	// Marketplace policy
	CommissionBps   int           // platform fee in basis points of the sale price
	EscrowHold      time.Duration // time funds stay held before auto-release
	OfferTTL        time.Duration // offers older than this expire
	MinOfferCents   int64         // floor for offered prices, in minor units
	ReleaseWarning  time.Duration // warn buyers this long before escrow auto-releases (last call to dispute)
	CheckoutTTL     time.Duration // pending checkouts older than this are failed by the sweep
	WebhookAttempts int           // bounded retries for store conflicts on webhook/sweep paths

	// Sweep
	SweepSecret   string        // shared secret guarding POST /internal/sweep
	SweepInterval time.Duration // 0 disables the in-process sweep timer

	// Notifications
	MailProviderURL string // HTTP mail provider endpoint (optional, logs if not set)
	MailSecret      string // HMAC secret for signing mail provider requests
}

// Policy defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultCommissionBps   = 2000 // 20%
	DefaultEscrowHoldDays  = 7
	DefaultOfferTTLHours   = 72
	DefaultMinOfferCents   = 100
	DefaultWarningHours    = 24
	DefaultCheckoutTTL     = 24
	DefaultWebhookAttempts = 3
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		CommissionBps:       int(getEnvInt64("COMMISSION_BPS", DefaultCommissionBps)),
		EscrowHold:          getEnvDuration("ESCROW_HOLD", time.Duration(DefaultEscrowHoldDays)*24*time.Hour),
		OfferTTL:            getEnvDuration("OFFER_TTL", DefaultOfferTTLHours*time.Hour),
		MinOfferCents:       getEnvInt64("MIN_OFFER_CENTS", DefaultMinOfferCents),
		ReleaseWarning:      getEnvDuration("RELEASE_WARNING", DefaultWarningHours*time.Hour),
		CheckoutTTL:         getEnvDuration("CHECKOUT_TTL", DefaultCheckoutTTL*time.Hour),
		WebhookAttempts:     int(getEnvInt64("WEBHOOK_ATTEMPTS", DefaultWebhookAttempts)),
		SweepSecret:         os.Getenv("SWEEP_SECRET"),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 0),
		MailProviderURL:     os.Getenv("MAIL_PROVIDER_URL"),
		MailSecret:          os.Getenv("MAIL_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.SweepSecret == "" {
		return fmt.Errorf("SWEEP_SECRET is required")
	}
	if c.CommissionBps < 0 || c.CommissionBps > 10000 {
		return fmt.Errorf("COMMISSION_BPS must be between 0 and 10000")
	}
	if c.MinOfferCents <= 0 {
		return fmt.Errorf("MIN_OFFER_CENTS must be a positive integer")
	}
	if c.EscrowHold <= 0 {
		return fmt.Errorf("ESCROW_HOLD must be a positive duration")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
