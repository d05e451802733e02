package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"keyserve.app/cloud/internal/license"
	"keyserve.app/cloud/internal/models"
)

type validateRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

func (vr validateRequest) validate() string {
	if vr.Token == "" {
		return "token required"
	}
	if vr.DeviceID == "" {
		return "device_id required"
	}
	return ""
}

type licenseSummary struct {
	ID        string        `json:"id"`
	Plan      models.Plan   `json:"plan"`
	Status    models.Status `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	Devices   []string      `json:"devices"`
}

type validateResponse struct {
	Assertion         string         `json:"assertion"`
	License           licenseSummary `json:"license"`
	OfflineTTLSeconds int64          `json:"offline_ttl_seconds"`
}

func summarize(l *models.License) licenseSummary {
	return licenseSummary{
		ID:        l.ID,
		Plan:      l.Plan,
		Status:    l.Status,
		ExpiresAt: l.ExpiresAt,
		Devices:   l.Devices.Sorted(),
	}
}

// ValidateLicense checks the presented token, binds the device if the quota
// allows, and returns a signed offline assertion.
func (s *Server) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	s.issueAssertion(w, r, s.licenses.Validate)
}

// RefreshLicense re-issues an assertion for a device that is already bound.
func (s *Server) RefreshLicense(w http.ResponseWriter, r *http.Request) {
	s.issueAssertion(w, r, s.licenses.Refresh)
}

func (s *Server) issueAssertion(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, token, deviceID string) (*license.ValidationResult, error)) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if reason := req.validate(); reason != "" {
		writeError(w, http.StatusBadRequest, reason)
		return
	}

	result, err := op(r.Context(), req.Token, req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Assertion:         result.Assertion,
		License:           summarize(result.License),
		OfflineTTLSeconds: int64(result.OfflineTTL.Seconds()),
	})
}

// PublicKey serves the assertion verification key as plain text so clients
// and third parties can verify offline.
func (s *Server) PublicKey(w http.ResponseWriter, r *http.Request) {
	pem, err := s.authority.PublicKeyPEM()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(pem)); err != nil {
		return
	}
}
