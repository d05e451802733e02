package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/config"
	"keyserve.app/cloud/internal/email"
	"keyserve.app/cloud/internal/handlers"
	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/logger"
	"keyserve.app/cloud/internal/ratelimit"
	"keyserve.app/cloud/internal/signing"
	"keyserve.app/cloud/internal/storage"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		logger.Error("Invalid configuration", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
		}); err != nil {
			logger.Error("sentry.Init failed", map[string]interface{}{
				"error": err.Error(),
			})
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	authority, err := signing.NewAuthority(cfg.SigningKeyPEM, cfg.AssertionTTL)
	if err != nil {
		logger.Error("Failed to load signing key", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open storage", map[string]interface{}{
			"error": err.Error(),
			"path":  cfg.DatabasePath,
		})
		os.Exit(1)
	}
	defer store.Close()

	provider := billing.NewStripeProvider(
		cfg.StripeSecret,
		cfg.PriceIDs,
		cfg.CheckoutSuccessURL,
		cfg.CheckoutCancelURL,
		cfg.ProviderTimeout,
	)

	mailer := email.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom)
	var mailerIface billing.Mailer
	if mailer != nil {
		mailerIface = mailer
	}

	reconciler := billing.NewReconciler(store, provider, mailerIface)
	processor := billing.NewProcessor(reconciler, 30*time.Second)

	server := handlers.NewServer(handlers.Options{
		Storage:       store,
		Licenses:      license.NewService(store, authority),
		Billing:       billing.NewService(store, provider, reconciler),
		Authority:     authority,
		Processor:     processor,
		WebhookSecret: cfg.StripeWebhookSecret,
		ReturnURL:     cfg.ReturnRedirectURL,
		Version:       version,
		RateLimit:     ratelimit.New(60, time.Minute),
	})

	logger.Info("KeyServe API starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})
	if err := http.ListenAndServe(":"+cfg.Port, server); err != nil {
		logger.Error("Server stopped", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}
}
