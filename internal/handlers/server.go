package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/ratelimit"
	"keyserve.app/cloud/internal/signing"
	"keyserve.app/cloud/internal/storage"
)

type Server struct {
	Router chi.Router

	store     storage.Storage
	licenses  *license.Service
	billing   *billing.Service
	authority *signing.Authority
	processor *billing.Processor

	webhookSecret string
	returnURL     string
	version       string
}

type Options struct {
	Storage       storage.Storage
	Licenses      *license.Service
	Billing       *billing.Service
	Authority     *signing.Authority
	Processor     *billing.Processor
	WebhookSecret string
	ReturnURL     string
	Version       string
	RateLimit     ratelimit.RateLimit
}

func NewServer(opts Options) *Server {
	s := &Server{
		store:         opts.Storage,
		licenses:      opts.Licenses,
		billing:       opts.Billing,
		authority:     opts.Authority,
		processor:     opts.Processor,
		webhookSecret: opts.WebhookSecret,
		returnURL:     opts.ReturnURL,
		version:       opts.Version,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if opts.RateLimit != nil {
				r.Use(ratelimit.Middleware(opts.RateLimit))
			}
			r.Get("/licenses/key", s.PublicKey)
			r.Post("/licenses/validate", s.ValidateLicense)
			r.Post("/licenses/refresh", s.RefreshLicense)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Post("/devices", s.AttachDevice)
			r.Delete("/devices", s.DetachDevice)
			r.Post("/subscriptions", s.CreateSubscription)
			r.Post("/subscriptions/cancel", s.CancelSubscription)
			r.Post("/subscriptions/pause", s.PauseSubscription)
			r.Post("/subscriptions/resume", s.ResumeSubscription)
			r.Post("/subscriptions/change-method", s.ChangePaymentMethod)
		})

		r.Get("/subscriptions/return", s.SubscriptionReturn)
		r.Post("/webhooks/payment", s.PaymentWebhook)
	})
	r.Get("/health", s.Health)

	s.Router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}
