package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Window answers whether an instant lies inside a bedtime window.
type Window interface {
	Contains(t time.Time) bool
}

// Never is a window that contains nothing.
type Never struct{}

// Contains always returns false.
func (Never) Contains(time.Time) bool { return false }

// ScheduleWindow adapts a Schedule to the Window interface.
type ScheduleWindow struct {
	Schedule *Schedule
}

// Contains reports schedule membership.
func (w ScheduleWindow) Contains(t time.Time) bool {
	return IsActiveAt(w.Schedule, t)
}

// ManualWindow is a daily bedtime/wake pair, used when no schedule applies.
type ManualWindow struct {
	Bedtime int `json:"bedtime_minute"`
	Wake    int `json:"wake_minute"`
}

// NewManualWindow parses "HH:MM" bedtime and wake strings.
func NewManualWindow(bedtime, wake string) (*ManualWindow, error) {
	b, err := ParseClock(bedtime)
	if err != nil {
		return nil, fmt.Errorf("bedtime: %w", err)
	}
	w, err := ParseClock(wake)
	if err != nil {
		return nil, fmt.Errorf("wake: %w", err)
	}
	return &ManualWindow{Bedtime: b, Wake: w}, nil
}

// Contains reports whether t's minute of day falls in [Bedtime, Wake),
// wrapping past midnight when Wake < Bedtime. Equal values contain nothing.
func (m ManualWindow) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	switch {
	case m.Bedtime < m.Wake:
		return minute >= m.Bedtime && minute < m.Wake
	case m.Bedtime > m.Wake:
		return minute >= m.Bedtime || minute < m.Wake
	default:
		return false
	}
}

// Source resolves schedule ids. Implementations return an error wrapping
// ErrScheduleNotFound for unknown ids.
type Source interface {
	Get(ctx context.Context, id string) (*Schedule, error)
}

// Chain tries each source in order and returns the first hit.
type Chain []Source

// Get implements Source.
func (c Chain) Get(ctx context.Context, id string) (*Schedule, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		s, err := src.Get(ctx, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrScheduleNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
}

// Precedence selects which window wins when both a schedule and a manual pair
// are configured.
type Precedence string

const (
	PreferSchedule Precedence = "schedule"
	PreferManual   Precedence = "manual"
)

// ParsePrecedence normalizes a configuration value.
func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(strings.ToLower(strings.TrimSpace(s))) {
	case "", PreferSchedule:
		return PreferSchedule, nil
	case PreferManual:
		return PreferManual, nil
	default:
		return "", fmt.Errorf("invalid precedence: %s (must be schedule or manual)", s)
	}
}

// Selection is the bedtime window configuration taken from a settings snapshot.
type Selection struct {
	ScheduleID string
	Manual     *ManualWindow
	Precedence Precedence
}

// Resolver turns a Selection into a concrete Window.
type Resolver struct {
	source Source
	logger zerolog.Logger
}

// NewResolver creates a resolver backed by source.
func NewResolver(source Source, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source: source,
		logger: logger.With().Str("component", "schedule-resolver").Logger(),
	}
}

// Resolve returns the effective window. A missing schedule degrades to the
// manual window, or to Never when no manual window is set; only storage
// failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, sel Selection) (Window, error) {
	if sel.Precedence == PreferManual && sel.Manual != nil {
		return *sel.Manual, nil
	}

	if sel.ScheduleID != "" && r.source != nil {
		s, err := r.source.Get(ctx, sel.ScheduleID)
		switch {
		case err == nil:
			return ScheduleWindow{Schedule: s}, nil
		case errors.Is(err, ErrScheduleNotFound):
			r.logger.Warn().
				Str("schedule_id", sel.ScheduleID).
				Bool("manual_fallback", sel.Manual != nil).
				Msg("Schedule not found, falling back")
		default:
			return nil, fmt.Errorf("resolve schedule %s: %w", sel.ScheduleID, err)
		}
	}

	if sel.Manual != nil {
		return *sel.Manual, nil
	}
	return Never{}, nil
}
