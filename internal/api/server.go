// Package api exposes presence, usage and settings over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/restwell/internal/ingest"
	"github.com/goodtune/restwell/internal/policy"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Deps are the collaborators the handlers call. Policy may be nil.
type Deps struct {
	Query    *query.Service
	Monitor  *presence.Monitor
	Recorder *ingest.Recorder
	Settings SettingsUpdater
	Policy   *policy.Engine
	Clock    presence.Clock
}

// Server represents the API HTTP server.
type Server struct {
	config   Config
	deps     Deps
	server   *http.Server
	router   *mux.Router
	listener net.Listener
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	if deps.Clock == nil {
		deps.Clock = presence.RealClock{}
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	presenceHandler := NewPresenceHandler(s.deps.Monitor, s.deps.Query, s.logger)
	s.router.HandleFunc("/api/presence", presenceHandler.Current).Methods("GET")
	s.router.HandleFunc("/api/presence/segments", presenceHandler.Segments).Methods("GET")
	s.router.HandleFunc("/api/presence/start", presenceHandler.Start).Methods("POST")
	s.router.HandleFunc("/api/presence/stop", presenceHandler.Stop).Methods("POST")

	signalHandler := NewSignalHandler(s.deps.Recorder, s.logger)
	s.router.HandleFunc("/api/signals/screen", signalHandler.Screen).Methods("POST")
	s.router.HandleFunc("/api/signals/sleep-confirmed", signalHandler.SleepConfirmed).Methods("POST")
	s.router.HandleFunc("/api/signals/app", signalHandler.App).Methods("POST")

	usageHandler := NewUsageHandler(s.deps.Query, s.deps.Clock, s.logger)
	s.router.HandleFunc("/api/usage/timeline", usageHandler.Timeline).Methods("GET")
	s.router.HandleFunc("/api/usage/stats", usageHandler.Stats).Methods("GET")
	s.router.HandleFunc("/api/reminders/next", usageHandler.NextReminder).Methods("GET")

	scheduleHandler := NewScheduleHandler(s.deps.Query, s.deps.Clock, s.logger)
	s.router.HandleFunc("/api/schedules", scheduleHandler.List).Methods("GET")
	s.router.HandleFunc("/api/schedules/{id}", scheduleHandler.Put).Methods("PUT")
	s.router.HandleFunc("/api/schedules/{id}", scheduleHandler.Delete).Methods("DELETE")
	s.router.HandleFunc("/api/schedules/{id}/active", scheduleHandler.Active).Methods("GET")

	settingsHandler := NewSettingsHandler(s.deps.Settings, s.logger)
	s.router.HandleFunc("/api/settings", settingsHandler.Get).Methods("GET")
	s.router.HandleFunc("/api/settings", settingsHandler.Update).Methods("PUT")

	if s.deps.Policy != nil {
		policyHandler := NewPolicyHandler(s.deps.Policy, s.logger)
		s.router.HandleFunc("/api/policy/check", policyHandler.Check).Methods("GET")
	} else {
		s.router.HandleFunc("/api/policy/check", func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "Policy engine is disabled")
		}).Methods("GET")
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"monitoring": s.deps.Monitor.Running(),
		"state":      s.deps.Monitor.Machine().State(),
	})
}
