package api

import (
	"encoding/json"
	"net/http"

	"github.com/goodtune/restwell/internal/ingest"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

// SignalHandler accepts device signals over HTTP.
type SignalHandler struct {
	recorder *ingest.Recorder
	logger   zerolog.Logger
}

// NewSignalHandler creates a new signal handler.
func NewSignalHandler(recorder *ingest.Recorder, logger zerolog.Logger) *SignalHandler {
	return &SignalHandler{
		recorder: recorder,
		logger:   logger.With().Str("handler", "signal").Logger(),
	}
}

type screenRequest struct {
	Timestamp int64            `json:"timestamp"`
	Type      usage.ScreenType `json:"type"`
}

type sleepRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type appRequest struct {
	Package   string `json:"package"`
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"` // "open" or "close"
}

// Screen records a screen transition.
func (h *SignalHandler) Screen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.record(w, r, ingest.Envelope{Kind: ingest.KindScreen, Timestamp: req.Timestamp, Type: req.Type})
}

// SleepConfirmed records an explicit sleep confirmation.
func (h *SignalHandler) SleepConfirmed(w http.ResponseWriter, r *http.Request) {
	var req sleepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.record(w, r, ingest.Envelope{Kind: ingest.KindSleepConfirmed, Timestamp: req.Timestamp})
}

// App records an app session opening or closing.
func (h *SignalHandler) App(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	env := ingest.Envelope{Timestamp: req.Timestamp, Package: req.Package}
	switch req.Action {
	case "open":
		env.Kind = ingest.KindAppOpen
	case "close":
		env.Kind = ingest.KindAppClose
	default:
		writeError(w, http.StatusBadRequest, "action must be open or close")
		return
	}
	h.record(w, r, env)
}

func (h *SignalHandler) record(w http.ResponseWriter, r *http.Request, env ingest.Envelope) {
	if err := h.recorder.Record(r.Context(), env); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("kind", string(env.Kind)).Msg("Failed to record signal")
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, env)
}
