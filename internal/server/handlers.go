package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/MeKo-Tech/checkscan/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// stateHandler returns the current session snapshot.
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// startHandler starts camera scanning. An optional JSON body selects the event.
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			s.writeErrorResponse(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				s.writeErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
				return
			}
		}
	}
	if req.EventID != "" {
		s.session.SetEventID(req.EventID)
	}

	if err := s.session.Start(r.Context()); err != nil {
		s.writeErrorResponse(w, err.Error(), startStatus(err))
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func startStatus(err error) int {
	var hw *capture.HardwareError
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrStopping):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrNoCamera):
		return http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrAborted):
		return http.StatusConflict
	case errors.As(err, &hw):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// stopHandler stops scanning and returns once the camera is released.
func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.Stop()
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
