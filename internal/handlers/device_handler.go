package handlers

import (
	"encoding/json"
	"net/http"
)

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

// AttachDevice binds a device to the session account's license, enforcing
// the plan quota.
func (s *Server) AttachDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required")
		return
	}

	l, err := s.licenses.AttachDevice(r.Context(), accountID(r), req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"license": summarize(l)})
}

// DetachDevice removes a device binding unconditionally.
func (s *Server) DetachDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required")
		return
	}

	l, err := s.licenses.DetachDevice(r.Context(), accountID(r), req.DeviceID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"license": summarize(l)})
}
