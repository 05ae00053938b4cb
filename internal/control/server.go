// Package control exposes the operator surface: pause/resume, alert
// reloads, immediate polls, runtime stats, custom metric creation and
// the websocket subscription endpoint.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"matchpulse/internal/broadcast"
	"matchpulse/internal/engine"
	"matchpulse/internal/formula"
	"matchpulse/internal/model"
)

// MetricCreator persists validated custom metrics.
type MetricCreator interface {
	CreateCustomMetric(ctx context.Context, cm *model.CustomMetric) error
}

// Server is the control-plane HTTP server.
type Server struct {
	svc     *engine.Service
	stats   func() engine.Stats
	hub     *broadcast.Hub
	metrics MetricCreator
	srv     *http.Server
}

// NewServer builds the router and server.
func NewServer(addr string, svc *engine.Service, stats func() engine.Stats, hub *broadcast.Hub, metrics MetricCreator) *Server {
	s := &Server{svc: svc, stats: stats, hub: hub, metrics: metrics}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/control", func(r chi.Router) {
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
		r.Post("/reload-alerts", s.handleReload)
		r.Post("/poll-now", s.handlePollNow)
		r.Post("/custom-metrics", s.handleCreateMetric)
		r.Get("/stats", s.handleStats)
	})
	r.Get("/ws", hub.HandleWS)

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start launches the server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[control] server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[control] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.svc.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.svc.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ReloadAlerts(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handlePollNow(w http.ResponseWriter, r *http.Request) {
	s.svc.PollNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "poll requested"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

// handleCreateMetric validates the formula before anything is stored.
// Unsafe expressions are rejected with the reason; unknown variables
// name the offending identifier.
func (s *Server) handleCreateMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  int64  `json:"user_id"`
		Name    string `json:"name"`
		Formula string `json:"formula"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 || req.Name == "" || req.Formula == "" {
		writeError(w, http.StatusBadRequest, "user_id, name and formula are required")
		return
	}

	// Validate against the canonical variable space (a zero vector
	// resolves every defined identifier).
	var probe model.MetricVector
	if err := formula.Validate(req.Formula, probe.Lookup); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, formula.ErrUnsafeExpression) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	cm := &model.CustomMetric{UserID: req.UserID, Name: req.Name, Formula: req.Formula}
	if err := s.metrics.CreateCustomMetric(r.Context(), cm); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cm)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
