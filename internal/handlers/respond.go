package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/logger"
	"keyserve.app/cloud/internal/signing"
	"keyserve.app/cloud/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// writeDomainError maps domain failures onto stable reason strings and
// status codes. Provider details stay in the logs; the caller sees a generic
// message plus the provider status when one was reported.
func writeDomainError(w http.ResponseWriter, err error) {
	var quotaErr *license.QuotaExceededError
	var usableErr *license.NotUsableError
	var transitionErr *billing.TransitionError
	var providerErr *billing.ProviderError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "license not found")
	case errors.As(err, &quotaErr):
		writeError(w, http.StatusConflict, quotaErr.Error())
	case errors.As(err, &usableErr):
		writeError(w, http.StatusForbidden, usableErr.Reason)
	case errors.Is(err, license.ErrDeviceNotBound):
		writeError(w, http.StatusForbidden, "device not bound")
	case errors.Is(err, billing.ErrNoCurrentSubscription):
		writeError(w, http.StatusConflict, "no subscription bound")
	case errors.As(err, &transitionErr):
		writeError(w, http.StatusConflict, transitionErr.Error())
	case errors.As(err, &providerErr):
		logger.Error("Payment provider call failed", map[string]interface{}{
			"error": providerErr.Error(),
		})
		body := map[string]interface{}{"error": "payment provider unavailable"}
		if providerErr.StatusCode > 0 {
			body["provider_status"] = providerErr.StatusCode
		}
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, signing.ErrNotConfigured):
		logger.Error("Signing authority not configured")
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		logger.Error("Unhandled error", map[string]interface{}{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
