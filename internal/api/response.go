package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goodtune/restwell/internal/ingest"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/query"
	"github.com/goodtune/restwell/internal/reminder"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/timerange"
	"github.com/goodtune/restwell/internal/usage"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParam),
		errors.Is(err, timerange.ErrInvalidRange),
		errors.Is(err, usage.ErrInvalidBinSize),
		errors.Is(err, schedule.ErrInvalidBlock),
		errors.Is(err, settings.ErrInvalid),
		errors.Is(err, ingest.ErrInvalidEnvelope),
		errors.Is(err, reminder.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, schedule.ErrScheduleNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrReadOnlySchedule),
		errors.Is(err, reminder.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, reminder.ErrUnboundedLookAhead):
		return http.StatusUnprocessableEntity
	case errors.Is(err, presence.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadParam = errors.New("invalid parameter")

// parseInstant reads an epoch-millis or RFC 3339 query parameter. ok is false
// when the parameter is absent.
func parseInstant(r *http.Request, name string) (ts int64, ok bool, err error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s must be epoch millis or RFC 3339", errBadParam, name)
	}
	return t.UnixMilli(), true, nil
}

// requireInstant is parseInstant for mandatory parameters.
func requireInstant(r *http.Request, name string) (int64, error) {
	ts, ok, err := parseInstant(r, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", errBadParam, name)
	}
	return ts, nil
}

// parseSpan reads a duration given as millis or a Go duration string.
func parseSpan(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be millis or a duration", errBadParam, name)
	}
	return d.Milliseconds(), nil
}
