// Package policy decides whether an app may be used given the current
// presence state and bedtime window.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/restwell/internal/policy/opa"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/rs/zerolog"
)

// StateSource reports the current presence state.
type StateSource interface {
	State() presence.State
}

// WindowChecker reports whether an instant falls in the bedtime window.
type WindowChecker interface {
	InWindow(ctx context.Context, at time.Time) (bool, error)
}

// Decision is a policy verdict for one package.
type Decision struct {
	Package  string         `json:"package"`
	State    presence.State `json:"state"`
	InWindow bool           `json:"in_window"`
	Block    bool           `json:"block"`
	Reason   string         `json:"reason"`
}

// Engine handles policy evaluation by gathering facts and calling OPA
type Engine struct {
	opaEngine *opa.Engine
	states    StateSource
	windows   WindowChecker
	allowlist []string
	clock     presence.Clock
	logger    zerolog.Logger
}

// NewEngine creates a new fact-based policy engine
func NewEngine(policyDir string, allowlist []string, states StateSource, windows WindowChecker, logger zerolog.Logger) (*Engine, error) {
	opaEngine, err := opa.NewEngine(policyDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	return &Engine{
		opaEngine: opaEngine,
		states:    states,
		windows:   windows,
		allowlist: append([]string(nil), allowlist...),
		clock:     presence.RealClock{},
		logger:    logger.With().Str("component", "policy").Logger(),
	}, nil
}

// SetClock sets the clock used when no instant is given (for testing)
func (e *Engine) SetClock(clock presence.Clock) {
	e.clock = clock
}

// Reload re-reads the policy files
func (e *Engine) Reload() error {
	return e.opaEngine.Reload()
}

// Check evaluates whether pkg is blocked at the given instant. A zero at
// means now.
func (e *Engine) Check(ctx context.Context, pkg string, at time.Time) (*Decision, error) {
	if pkg == "" {
		return nil, fmt.Errorf("package name is required")
	}
	if at.IsZero() {
		at = e.clock.Now()
	}

	state := presence.Unknown
	if e.states != nil {
		state = e.states.State()
	}

	inWindow := false
	if e.windows != nil {
		var err error
		inWindow, err = e.windows.InWindow(ctx, at)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve bedtime window: %w", err)
		}
	}

	result, err := e.opaEngine.Evaluate(ctx, e.buildFacts(pkg, state, inWindow, at))
	if err != nil {
		e.logger.Error().Err(err).Str("package", pkg).Msg("OPA evaluation failed")
		return nil, err
	}

	return &Decision{
		Package:  pkg,
		State:    state,
		InWindow: inWindow,
		Block:    result.Block,
		Reason:   result.Reason,
	}, nil
}

// buildFacts gathers the policy input
func (e *Engine) buildFacts(pkg string, state presence.State, inWindow bool, at time.Time) map[string]interface{} {
	allowlist := make([]interface{}, len(e.allowlist))
	for i, p := range e.allowlist {
		allowlist[i] = p
	}
	return map[string]interface{}{
		"package":     pkg,
		"state":       string(state),
		"in_window":   inWindow,
		"hour":        at.Hour(),
		"minute":      at.Minute(),
		"day_of_week": int(at.Weekday()),
		"allowlist":   allowlist,
	}
}
