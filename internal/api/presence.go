package api

import (
	"net/http"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/rs/zerolog"
)

// PresenceHandler serves presence state and monitoring lifecycle requests.
type PresenceHandler struct {
	monitor *presence.Monitor
	query   *query.Service
	logger  zerolog.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(monitor *presence.Monitor, svc *query.Service, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		monitor: monitor,
		query:   svc,
		logger:  logger.With().Str("handler", "presence").Logger(),
	}
}

type presenceStatus struct {
	State   presence.State `json:"state"`
	Running bool           `json:"running"`
}

func (h *PresenceHandler) status() presenceStatus {
	return presenceStatus{State: h.monitor.Machine().State(), Running: h.monitor.Running()}
}

// Current returns the current presence state.
func (h *PresenceHandler) Current(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// Segments returns the presence segments covering [start, end).
func (h *PresenceHandler) Segments(w http.ResponseWriter, r *http.Request) {
	start, err := requireInstant(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := requireInstant(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	segments, err := h.query.Segments(r.Context(), start, end)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("Failed to reconstruct segments")
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"segments": segments,
		"count":    len(segments),
		"time_in":  presence.TimeIn(segments),
	})
}

// Start begins presence monitoring.
func (h *PresenceHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Start(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to start monitoring")
		writeError(w, http.StatusInternalServerError, "Failed to start monitoring")
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// Stop ends presence monitoring.
func (h *PresenceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Stop(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to stop monitoring")
		writeError(w, http.StatusInternalServerError, "Failed to stop monitoring")
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}
