package api

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Redis    string `json:"redis"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

// handleHealthz returns 200 if the state backend answers a ping within two
// seconds and 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy", Redis: "not configured", Sessions: s.svc.Sessions().Len()}
	if s.health == nil {
		respondJSON(w, http.StatusOK, response)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.health.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	response.Redis = "connected"
	respondJSON(w, http.StatusOK, response)
}
