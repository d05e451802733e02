package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"

	"keyserve.app/cloud/internal/billing"
	"keyserve.app/cloud/internal/logger"
	"keyserve.app/cloud/internal/models"
)

type createSubscriptionRequest struct {
	Plan       models.Plan `json:"plan"`
	PayerEmail string      `json:"payer_email"`
}

// CreateSubscription starts a checkout and records the pending binding on an
// inactive license.
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Plan.Valid() {
		writeError(w, http.StatusBadRequest, "plan must be single or multi")
		return
	}
	if req.PayerEmail == "" {
		writeError(w, http.StatusBadRequest, "payer_email required")
		return
	}

	checkoutURL, err := s.billing.CreateSubscription(r.Context(), accountID(r), req.Plan, req.PayerEmail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": checkoutURL})
}

func (s *Server) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	l, err := s.billing.Cancel(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"license": summarize(l)})
}

func (s *Server) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	l, err := s.billing.Pause(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"license": summarize(l)})
}

func (s *Server) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	l, err := s.billing.Resume(r.Context(), accountID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"license": summarize(l)})
}

type changeMethodRequest struct {
	PayerEmail string `json:"payer_email"`
}

// ChangePaymentMethod opens a parallel checkout; the current subscription is
// only superseded once the new one reports authorized.
func (s *Server) ChangePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req changeMethodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PayerEmail == "" {
		writeError(w, http.StatusBadRequest, "payer_email required")
		return
	}

	checkoutURL, err := s.billing.ChangePaymentMethod(r.Context(), accountID(r), req.PayerEmail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": checkoutURL})
}

// SubscriptionReturn resolves a pending subscription after checkout and
// redirects the payer with a status indicator.
func (s *Server) SubscriptionReturn(w http.ResponseWriter, r *http.Request) {
	subscriptionID := r.URL.Query().Get("subscription")
	if subscriptionID == "" {
		s.redirectWithStatus(w, r, "error")
		return
	}

	status, err := s.billing.HandleReturn(r.Context(), subscriptionID)
	if err != nil {
		logger.Error("Return flow failed", map[string]interface{}{
			"subscription_id": subscriptionID,
			"error":           err.Error(),
		})
		s.redirectWithStatus(w, r, "error")
		return
	}

	switch status {
	case billing.StatusAuthorized:
		s.redirectWithStatus(w, r, "success")
	case billing.StatusCancelled:
		s.redirectWithStatus(w, r, "cancelled")
	default:
		s.redirectWithStatus(w, r, "pending")
	}
}

func (s *Server) redirectWithStatus(w http.ResponseWriter, r *http.Request, status string) {
	http.Redirect(w, r, s.returnURL+"?status="+url.QueryEscape(status), http.StatusFound)
}
