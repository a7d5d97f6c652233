package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/onvifeye/onvifeye/internal/camera"
	"github.com/onvifeye/onvifeye/internal/log"
)

// StatusProvider reports the state of the supervised cameras.
type StatusProvider interface {
	Statuses() []camera.Status
}

// Server is the monitor's HTTP surface: health, camera status, recent
// lifecycle events and the live websocket feed.
type Server struct {
	statuses StatusProvider
	history  *History
	hub      *Hub
	started  time.Time
	logger   zerolog.Logger
}

func NewServer(statuses StatusProvider, history *History, hub *Hub) *Server {
	return &Server{
		statuses: statuses,
		history:  history,
		hub:      hub,
		started:  time.Now(),
		logger:   log.WithComponent("api"),
	}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cameras", s.handleCameras)
		r.Get("/events/recent", s.handleRecentEvents)
		r.Get("/events/live", s.hub.ServeWS)
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.statuses.Statuses()
	connected := 0
	for _, st := range statuses {
		if st.State == camera.StateConnected {
			connected++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"cameras":   len(statuses),
		"connected": connected,
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"cameras": s.statuses.Statuses(),
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"events": s.history.Recent(),
	})
}
