package api

import (
	"net/http"
	"time"

	"github.com/goodtune/restwell/internal/policy"
	"github.com/rs/zerolog"
)

// PolicyHandler answers blocking decisions.
type PolicyHandler struct {
	engine *policy.Engine
	logger zerolog.Logger
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(engine *policy.Engine, logger zerolog.Logger) *PolicyHandler {
	return &PolicyHandler{
		engine: engine,
		logger: logger.With().Str("handler", "policy").Logger(),
	}
}

// Check evaluates whether a package is blocked.
func (h *PolicyHandler) Check(w http.ResponseWriter, r *http.Request) {
	pkg := r.URL.Query().Get("package")
	if pkg == "" {
		writeError(w, http.StatusBadRequest, "package is required")
		return
	}

	var at time.Time
	ts, ok, err := parseInstant(r, "at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		at = time.UnixMilli(ts)
	}

	decision, err := h.engine.Check(r.Context(), pkg, at)
	if err != nil {
		h.logger.Error().Err(err).Str("package", pkg).Msg("Policy check failed")
		writeError(w, http.StatusInternalServerError, "Failed to evaluate policy")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
