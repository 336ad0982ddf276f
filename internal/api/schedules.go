package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ScheduleHandler manages bedtime schedules.
type ScheduleHandler struct {
	query  *query.Service
	clock  presence.Clock
	logger zerolog.Logger
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(svc *query.Service, clock presence.Clock, logger zerolog.Logger) *ScheduleHandler {
	if clock == nil {
		clock = presence.RealClock{}
	}
	return &ScheduleHandler{
		query:  svc,
		clock:  clock,
		logger: logger.With().Str("handler", "schedule").Logger(),
	}
}

// List returns file and stored schedules.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.query.Schedules(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list schedules")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve schedules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// Put stores a schedule under the id in the path.
func (h *ScheduleHandler) Put(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var sched schedule.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if sched.ID == "" {
		sched.ID = id
	}
	if sched.ID != id {
		writeError(w, http.StatusBadRequest, "Schedule id does not match path")
		return
	}

	if err := h.query.PutSchedule(r.Context(), sched); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("id", id).Msg("Failed to store schedule")
			writeError(w, status, "Failed to store schedule")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	h.logger.Info().Str("id", id).Int("groups", len(sched.Groups)).Msg("Schedule stored")
	writeJSON(w, http.StatusOK, sched)
}

// Delete removes a stored schedule.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.query.DeleteSchedule(r.Context(), id); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("id", id).Msg("Failed to delete schedule")
			writeError(w, status, "Failed to delete schedule")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	h.logger.Info().Str("id", id).Msg("Schedule deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Active reports whether the schedule covers at, which defaults to now.
func (h *ScheduleHandler) Active(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	at := h.clock.Now()
	ts, ok, err := parseInstant(r, "at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		at = time.UnixMilli(ts)
	}

	active, err := h.query.ScheduleActive(r.Context(), id, at)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("id", id).Msg("Failed to evaluate schedule")
			writeError(w, status, "Failed to evaluate schedule")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"at":     at.UnixMilli(),
		"active": active,
	})
}
