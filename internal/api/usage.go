package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/goodtune/restwell/internal/reminder"
	"github.com/rs/zerolog"
)

// UsageHandler serves timeline, statistics and reminder queries.
type UsageHandler struct {
	query  *query.Service
	clock  presence.Clock
	logger zerolog.Logger
}

// NewUsageHandler creates a new usage handler.
func NewUsageHandler(svc *query.Service, clock presence.Clock, logger zerolog.Logger) *UsageHandler {
	if clock == nil {
		clock = presence.RealClock{}
	}
	return &UsageHandler{
		query:  svc,
		clock:  clock,
		logger: logger.With().Str("handler", "usage").Logger(),
	}
}

func (h *UsageHandler) fail(w http.ResponseWriter, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(msg)
		writeError(w, status, msg)
		return
	}
	writeError(w, status, err.Error())
}

// window reads start, end and the optional now parameter.
func (h *UsageHandler) window(r *http.Request) (start, end, now int64, err error) {
	if start, err = requireInstant(r, "start"); err != nil {
		return
	}
	if end, err = requireInstant(r, "end"); err != nil {
		return
	}
	var ok bool
	if now, ok, err = parseInstant(r, "now"); err != nil {
		return
	}
	if !ok {
		// Sessions still open are closed at the current time, bounded by the view.
		now = min(h.clock.Now().UnixMilli(), end)
	}
	return
}

// Timeline returns the reconstructed screen-on timeline.
func (h *UsageHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	start, end, now, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	model, err := h.query.Timeline(r.Context(), start, end, now)
	if err != nil {
		h.fail(w, err, "Failed to build timeline")
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// Stats returns aggregated usage statistics.
func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	start, end, now, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bin, err := parseSpan(r, "bin")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Has("bin") && bin <= 0 {
		writeError(w, http.StatusBadRequest, "bin must be positive")
		return
	}
	nonEmpty := false
	if v := r.URL.Query().Get("nonempty"); v != "" {
		if nonEmpty, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "nonempty must be true or false")
			return
		}
	}

	stats, err := h.query.Statistics(r.Context(), start, end, bin, now)
	if err != nil {
		h.fail(w, err, "Failed to aggregate usage")
		return
	}
	// Totals still cover the whole range.
	if nonEmpty {
		stats.Bins = stats.NonEmpty()
	}
	writeJSON(w, http.StatusOK, stats)
}

// NextReminder returns the next reminder fire time after last, which
// defaults to now.
func (h *UsageHandler) NextReminder(w http.ResponseWriter, r *http.Request) {
	last, ok, err := parseInstant(r, "last")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		last = h.clock.Now().UnixMilli()
	}

	next, err := h.query.NextReminder(r.Context(), last)
	if errors.Is(err, reminder.ErrDisabled) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
			"last":    last,
		})
		return
	}
	if err != nil {
		h.fail(w, err, "Failed to plan reminder")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"last":    last,
		"next":    next,
	})
}
