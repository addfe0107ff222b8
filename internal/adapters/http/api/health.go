package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Checks any    `json:"checks"`
}

// handleHealth handles GET /healthz. It answers 503 when either store is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Checks: h})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: h})
}
