package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"keyserve.app/cloud/internal/models"
)

type Config struct {
	Port         string
	DatabasePath string

	StripeSecret        string
	StripeWebhookSecret string
	PriceIDs            map[models.Plan]string
	ProviderTimeout     time.Duration

	SigningKeyPEM string
	AssertionTTL  time.Duration

	CheckoutSuccessURL string
	CheckoutCancelURL  string
	ReturnRedirectURL  string

	SentryDSN string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string
}

// New reads configuration from the environment. All missing required
// variables are reported together instead of one at a time.
func New() (*Config, error) {
	var errs *multierror.Error

	require := func(name string) string {
		value := os.Getenv(name)
		if value == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s environment variable is required", name))
		}
		return value
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	cfg := &Config{
		Port:                port,
		DatabasePath:        require("DATABASE_PATH"),
		StripeSecret:        require("STRIPE_SECRET"),
		StripeWebhookSecret: require("STRIPE_WEBHOOK_SECRET"),
		SigningKeyPEM:       require("LICENSE_SIGNING_KEY"),
		PriceIDs: map[models.Plan]string{
			models.PlanSingle: require("STRIPE_PRICE_SINGLE"),
			models.PlanMulti:  require("STRIPE_PRICE_MULTI"),
		},
		CheckoutSuccessURL: require("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:  require("CHECKOUT_CANCEL_URL"),
		ReturnRedirectURL:  require("RETURN_REDIRECT_URL"),
		SentryDSN:          os.Getenv("SENTRY_DSN"),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           os.Getenv("SMTP_PORT"),
		SMTPUsername:       os.Getenv("SMTP_USERNAME"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		EmailFrom:          os.Getenv("EMAIL_FROM"),
	}
	if cfg.EmailFrom == "" {
		cfg.EmailFrom = "licenses@keyserve.app"
	}

	cfg.AssertionTTL = durationHours("ASSERTION_TTL_HOURS", 72, &errs)
	cfg.ProviderTimeout = durationSeconds("PROVIDER_TIMEOUT_SECONDS", 10, &errs)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func durationHours(name string, fallback int, errs **multierror.Error) time.Duration {
	return duration(name, fallback, time.Hour, errs)
}

func durationSeconds(name string, fallback int, errs **multierror.Error) time.Duration {
	return duration(name, fallback, time.Second, errs)
}

func duration(name string, fallback int, unit time.Duration, errs **multierror.Error) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return time.Duration(fallback) * unit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		*errs = multierror.Append(*errs, fmt.Errorf("%s must be a positive integer, got %q", name, raw))
		return time.Duration(fallback) * unit
	}
	return time.Duration(n) * unit
}
