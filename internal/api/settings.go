package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/goodtune/restwell/internal/settings"
	"github.com/rs/zerolog"
)

// SettingsUpdater reads and patches the effective settings.
type SettingsUpdater interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
	Update(ctx context.Context, patch *settings.Overrides) (settings.Snapshot, error)
}

// SettingsHandler serves the effective settings.
type SettingsHandler struct {
	settings SettingsUpdater
	logger   zerolog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(provider SettingsUpdater, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: provider,
		logger:   logger.With().Str("handler", "settings").Logger(),
	}
}

// settingsView renders durations as strings.
type settingsView struct {
	BedtimeTrackingEnabled bool              `json:"bedtime_tracking_enabled"`
	InactivityThreshold    settings.Duration `json:"inactivity_threshold"`
	ScheduleID             string            `json:"schedule_id,omitempty"`
	ManualBedtime          string            `json:"manual_bedtime,omitempty"`
	ManualWake             string            `json:"manual_wake,omitempty"`
	Precedence             string            `json:"precedence"`
	BinSize                settings.Duration `json:"bin_size"`
	RemindersEnabled       bool              `json:"reminders_enabled"`
	ReminderInterval       settings.Duration `json:"reminder_interval"`
	SnoozeUntil            *int64            `json:"snooze_until,omitempty"`
}

func newSettingsView(s settings.Snapshot) settingsView {
	return settingsView{
		BedtimeTrackingEnabled: s.BedtimeTrackingEnabled,
		InactivityThreshold:    settings.Duration(s.InactivityThreshold),
		ScheduleID:             s.ScheduleID,
		ManualBedtime:          s.ManualBedtime,
		ManualWake:             s.ManualWake,
		Precedence:             string(s.Precedence),
		BinSize:                settings.Duration(s.BinSize),
		RemindersEnabled:       s.RemindersEnabled,
		ReminderInterval:       settings.Duration(s.ReminderInterval),
		SnoozeUntil:            s.SnoozeUntil,
	}
}

// Get returns the effective settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Snapshot(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load settings")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve settings")
		return
	}
	writeJSON(w, http.StatusOK, newSettingsView(snap))
}

// Update merges the request body into the stored overrides.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch settings.Overrides
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snap, err := h.settings.Update(r.Context(), &patch)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Msg("Failed to update settings")
			writeError(w, status, "Failed to update settings")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	h.logger.Info().Msg("Settings updated")
	writeJSON(w, http.StatusOK, newSettingsView(snap))
}
