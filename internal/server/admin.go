package server

import (
	"encoding/json"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	client, user := s.bridge.Ready()

	status := "healthy"
	code := http.StatusOK
	if !client {
		status = "waiting_for_client"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"client":    client,
		"user":      user,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := s.bridge.Stats()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no client stats available")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.Refresh(r.Context()); err != nil {
		s.logger.Warn("forced refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
