package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/logger"
)

// PaymentWebhook takes provider event payloads. The provider is acknowledged
// immediately; reconciliation happens asynchronously and malformed or
// irrelevant events are dropped without complaint.
func (s *Server) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Error("Failed to read webhook payload", map[string]interface{}{
			"error": err.Error(),
		})
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var event stripe.Event
	if os.Getenv("TEST_MODE") == "true" {
		// Signature verification is skipped in test mode.
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.Warn("Dropping malformed webhook payload", map[string]interface{}{
				"error": err.Error(),
			})
			s.acknowledge(w)
			return
		}
	} else {
		event, err = webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
		if err != nil {
			logger.Error("Webhook signature verification failed", map[string]interface{}{
				"error": err.Error(),
			})
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			logger.Warn("Dropping unparseable subscription event", map[string]interface{}{
				"event_id": event.ID,
				"error":    err.Error(),
			})
			break
		}
		ev := billing.EventFromSubscription(&sub)
		if event.Type == "customer.subscription.deleted" {
			ev.Status = billing.StatusCancelled
		}
		s.processor.Enqueue(ev)
	default:
		logger.Debug("Ignoring webhook event type", map[string]interface{}{
			"event_type": string(event.Type),
			"event_id":   event.ID,
		})
	}

	s.acknowledge(w)
}

func (s *Server) acknowledge(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}
