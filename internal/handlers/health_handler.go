package handlers

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Webhooks  webhooks  `json:"webhooks"`
}

type webhooks struct {
	Received  int64 `json:"received"`
	Applied   int64 `json:"applied"`
	Discarded int64 `json:"discarded"`
	Failed    int64 `json:"failed"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: time.Now(),
		Webhooks: webhooks{
			Received:  s.processor.Received.Load(),
			Applied:   s.processor.Applied.Load(),
			Discarded: s.processor.Discarded.Load(),
			Failed:    s.processor.Failed.Load(),
		},
	})
}
