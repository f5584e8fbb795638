package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL         string
	StripeSecretKey     string
	StripeWebhookSecret string
	// Price attached to the subscription created by checkout sessions
	StripePriceID      string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	JWTSecret          string
	// Optional: base URL for running remote HTTP integration tests (e.g., https://api.example.com)
	IntegrationBaseURL string
	// Server ports
	HTTPPort string
	GRPCPort string
	LogLevel string

	TrialDays      int
	SweepInterval  time.Duration
	RefetchTimeout time.Duration
	TokenTTL       time.Duration
	DiscardStale   bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{}

	// Try to load .env file from current directory and parent directories
	currentDir, _ := os.Getwd()
	for currentDir != "/" && currentDir != "." {
		envPath := filepath.Join(currentDir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("failed to load .env file: %v", err)
			}
			break
		}
		currentDir = filepath.Dir(currentDir)
	}

	if err := fillFromEnv(config, os.Getenv); err != nil {
		return nil, err
	}
	if err := config.applyDefaults(os.Getenv); err != nil {
		return nil, err
	}
	return config, nil
}

var envVars = []struct {
	name     string
	envVar   string
	display  string
	required bool
}{
	{"DatabaseURL", "DATABASE_URL", "Database URL", true},
	{"StripeSecretKey", "STRIPE_SECRET_KEY", "Stripe Secret Key", true},
	{"StripeWebhookSecret", "STRIPE_WEBHOOK_SECRET", "Stripe Webhook Secret", true},
	{"JWTSecret", "JWT_SECRET", "JWT Secret", true},
	{"StripePriceID", "STRIPE_PRICE_ID", "Stripe Price ID", false},
	{"CheckoutSuccessURL", "CHECKOUT_SUCCESS_URL", "Checkout Success URL", false},
	{"CheckoutCancelURL", "CHECKOUT_CANCEL_URL", "Checkout Cancel URL", false},
	// Optional integration base URL for remote tests
	{"IntegrationBaseURL", "INTEGRATION_BASE_URL", "Integration Base URL", false},
	// Optional server ports
	{"HTTPPort", "PORT", "HTTP Port", false},
	{"GRPCPort", "GRPC_PORT", "gRPC Port", false},
	{"LogLevel", "LOG_LEVEL", "Log Level", false},
}

func fillFromEnv(config *Config, getenv func(string) string) error {
	for _, v := range envVars {
		value := getenv(v.envVar)
		if v.required && value == "" {
			return fmt.Errorf("missing required environment variable: %s", v.display)
		}
		configField := reflect.ValueOf(config).Elem().FieldByName(v.name)
		configField.SetString(value)
	}
	return nil
}

// applyDefaults fills optional string settings and parses the typed ones.
func (c *Config) applyDefaults(getenv func(string) string) error {
	if c.HTTPPort == "" {
		c.HTTPPort = "8080"
	}
	if c.GRPCPort == "" {
		c.GRPCPort = "50051"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	var err error
	if c.TrialDays, err = intOr(getenv("TRIAL_DAYS"), DefaultTrialDays); err != nil {
		return fmt.Errorf("invalid TRIAL_DAYS: %w", err)
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("invalid TRIAL_DAYS: must not be negative")
	}
	if c.SweepInterval, err = durationOr(getenv("SWEEP_INTERVAL"), DefaultSweepInterval); err != nil {
		return fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	if c.RefetchTimeout, err = durationOr(getenv("STRIPE_REFETCH_TIMEOUT"), DefaultRefetchTimeout); err != nil {
		return fmt.Errorf("invalid STRIPE_REFETCH_TIMEOUT: %w", err)
	}
	if c.TokenTTL, err = durationOr(getenv("TOKEN_TTL"), DefaultTokenTTL); err != nil {
		return fmt.Errorf("invalid TOKEN_TTL: %w", err)
	}
	if c.DiscardStale, err = boolOr(getenv("RECONCILE_DISCARD_STALE"), true); err != nil {
		return fmt.Errorf("invalid RECONCILE_DISCARD_STALE: %w", err)
	}
	return nil
}

// TrialDuration is the one-time trial window granted at registration.
func (c *Config) TrialDuration() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

func intOr(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func durationOr(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

func boolOr(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseBool(raw)
}
