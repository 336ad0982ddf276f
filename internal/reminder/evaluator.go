// Package reminder computes when recurring reminders should fire and hands
// the result to a dispatcher.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/rs/zerolog"
)

// DefaultMaxLookAhead bounds how far NextFireTime searches for an active
// instant.
const DefaultMaxLookAhead = 7 * 24 * time.Hour

var (
	// ErrUnboundedLookAhead is returned when no active instant exists within
	// the look-ahead bound, usually because the predicate is never true.
	ErrUnboundedLookAhead = errors.New("reminder look-ahead exceeded")
	// ErrInvalidInterval is returned for a non-positive interval.
	ErrInvalidInterval = errors.New("invalid reminder interval: must be positive")
	// ErrDisabled is returned by Planner.Next while reminders are turned off.
	ErrDisabled = errors.New("reminders are disabled")
)

// Predicate reports whether a reminder may fire at ts (epoch millis). A nil
// Predicate is always true.
type Predicate func(ts int64) bool

// NextFireTime is NextFireTimeWithin with DefaultMaxLookAhead.
func NextFireTime(lastFire int64, interval time.Duration, snoozeUntil *int64, active Predicate) (int64, error) {
	return NextFireTimeWithin(lastFire, interval, snoozeUntil, active, DefaultMaxLookAhead)
}

// NextFireTimeWithin returns the first instant at or after lastFire+interval
// (or snoozeUntil, when later) for which active holds, stepping forward by
// interval. Candidates more than maxLookAhead past the first are not tried,
// and neither are instants past math.MaxInt64.
func NextFireTimeWithin(lastFire int64, interval time.Duration, snoozeUntil *int64, active Predicate, maxLookAhead time.Duration) (int64, error) {
	step := interval.Milliseconds()
	if step <= 0 {
		return 0, ErrInvalidInterval
	}
	if lastFire > math.MaxInt64-step {
		return 0, fmt.Errorf("%w: no instant after %d is representable", ErrUnboundedLookAhead, lastFire)
	}

	candidate := lastFire + step
	if snoozeUntil != nil && *snoozeUntil > candidate {
		candidate = *snoozeUntil
	}
	if active == nil {
		return candidate, nil
	}

	steps := maxLookAhead.Milliseconds() / step
	for i := int64(0); i <= steps; i++ {
		// i*step <= maxLookAhead, so only the addition can overflow.
		if candidate > 0 && i*step > math.MaxInt64-candidate {
			break
		}
		if ts := candidate + i*step; active(ts) {
			return ts, nil
		}
	}
	return 0, fmt.Errorf("%w: nothing active within %s of %d", ErrUnboundedLookAhead, maxLookAhead, candidate)
}

// PausedDuring returns a predicate that is false inside window.
func PausedDuring(window schedule.Window, loc *time.Location) Predicate {
	if window == nil {
		return nil
	}
	if loc == nil {
		loc = time.Local
	}
	return func(ts int64) bool {
		return !window.Contains(time.UnixMilli(ts).In(loc))
	}
}

// WindowResolver turns a settings selection into a bedtime window.
type WindowResolver interface {
	Resolve(ctx context.Context, sel schedule.Selection) (schedule.Window, error)
}

// Planner derives the next fire time from the current settings. Reminders
// are paused inside the bedtime window while bedtime tracking is enabled.
type Planner struct {
	settings  settings.Provider
	windows   WindowResolver
	loc       *time.Location
	lookAhead time.Duration
	logger    zerolog.Logger
}

// NewPlanner creates a planner. A zero lookAhead uses DefaultMaxLookAhead.
func NewPlanner(provider settings.Provider, windows WindowResolver, loc *time.Location, lookAhead time.Duration, logger zerolog.Logger) *Planner {
	if loc == nil {
		loc = time.Local
	}
	if lookAhead <= 0 {
		lookAhead = DefaultMaxLookAhead
	}
	return &Planner{
		settings:  provider,
		windows:   windows,
		loc:       loc,
		lookAhead: lookAhead,
		logger:    logger.With().Str("component", "reminder-planner").Logger(),
	}
}

// Next returns the next fire time after lastFire.
func (p *Planner) Next(ctx context.Context, lastFire int64) (int64, error) {
	snap, err := p.settings.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if !snap.RemindersEnabled {
		return 0, ErrDisabled
	}

	var active Predicate
	if snap.BedtimeTrackingEnabled && p.windows != nil {
		sel, err := snap.Selection()
		if err != nil {
			p.logger.Warn().Err(err).Msg("Ignoring invalid manual bedtime window")
		}
		window, err := p.windows.Resolve(ctx, sel)
		if err != nil {
			return 0, err
		}
		active = PausedDuring(window, p.loc)
	}

	return NextFireTimeWithin(lastFire, snap.ReminderInterval, snap.SnoozeUntil, active, p.lookAhead)
}

// Due reports whether a reminder following lastFire should fire at now, and
// returns the computed fire time.
func (p *Planner) Due(ctx context.Context, lastFire, now int64) (bool, int64, error) {
	next, err := p.Next(ctx, lastFire)
	if err != nil {
		return false, 0, err
	}
	return next <= now, next, nil
}
