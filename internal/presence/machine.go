package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

// EventLog persists presence transitions. Append must not return until the
// event is durable.
type EventLog interface {
	Append(ctx context.Context, ev Event) error
}

// Inputs is everything one evaluation looks at.
type Inputs struct {
	// Now is the evaluation timestamp in epoch millis.
	Now int64
	// Screen is the most recent screen event, if any.
	Screen *usage.ScreenEvent
	// SleepConfirmed is the timestamp of the most recent external
	// sleep-confirmed pulse, if any.
	SleepConfirmed *int64
	// TrackingEnabled is the bedtime tracking toggle.
	TrackingEnabled bool
	// InWindow reports whether the bedtime window contains Now.
	InWindow bool
	// InactivityThreshold is how long the screen must stay off in
	// WINDING_DOWN before escalating to SLEEPING without confirmation.
	// Zero disables the fallback.
	InactivityThreshold time.Duration
}

// Machine is the presence state machine. It is safe for concurrent use but
// expects a single evaluator.
type Machine struct {
	mu     sync.Mutex
	log    EventLog
	cell   *Cell
	logger zerolog.Logger

	state        State
	lastEvent    int64
	windingSince int64
	lastScreen   *usage.ScreenEvent
	lastPulse    *int64
}

// NewMachine creates a machine in UNKNOWN that appends transitions to log and
// publishes them on cell.
func NewMachine(log EventLog, cell *Cell, logger zerolog.Logger) *Machine {
	if cell == nil {
		cell = NewCell()
	}
	return &Machine{
		log:    log,
		cell:   cell,
		logger: logger.With().Str("component", "presence").Logger(),
		state:  Unknown,
	}
}

// Restore seeds the machine from the last persisted event without appending.
func (m *Machine) Restore(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = ev.State
	m.lastEvent = ev.Timestamp
	if ev.State == WindingDown {
		m.windingSince = ev.Timestamp
	}
	m.cell.Set(ev)
}

// SeedScreen records the screen event in effect before the machine started
// receiving signals. It only counts as already seen, so a stored ON does not
// wake the machine again while a stored OFF still drives the inactivity
// fallback. A newer event already seen wins.
func (m *Machine) SeedScreen(ev usage.ScreenEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastScreen != nil && m.lastScreen.Timestamp >= ev.Timestamp {
		return
	}
	m.lastScreen = &ev
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cell returns the observable state cell.
func (m *Machine) Cell() *Cell {
	return m.cell
}

// Start begins monitoring. UNKNOWN moves to AWAKE; any other state is kept.
func (m *Machine) Start(ctx context.Context, now int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Unknown {
		return false, nil
	}
	return true, m.transition(ctx, Awake, now, "monitoring started")
}

// Stop ends monitoring and forces UNKNOWN.
func (m *Machine) Stop(ctx context.Context, now int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Unknown {
		return false, nil
	}
	if err := m.transition(ctx, Unknown, now, "monitoring stopped"); err != nil {
		return false, err
	}
	m.lastScreen = nil
	m.lastPulse = nil
	return true, nil
}

// Evaluate applies the transition table to in until the state settles, so a
// screen-off and a confirmation carrying the same timestamp reach SLEEPING in
// one call. It reports whether any transition was made. Re-evaluating
// unchanged inputs is a no-op. When the event log fails the state is left at
// the last durable transition and the same inputs can be retried.
func (m *Machine) Evaluate(ctx context.Context, in Inputs) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	screenOn, screenOff := m.screenEdges(in.Screen)
	changed := false
	for range States {
		next, reason, usedPulse := m.next(in, screenOn, screenOff)
		if next == m.state {
			break
		}
		if err := m.transition(ctx, next, in.Now, reason); err != nil {
			return changed, err
		}
		changed = true
		if usedPulse {
			ts := *in.SleepConfirmed
			m.lastPulse = &ts
		}
	}

	if in.Screen != nil {
		ev := *in.Screen
		m.lastScreen = &ev
	}
	return changed, nil
}

// screenEdges reports a new ON event and whether the screen is currently off.
func (m *Machine) screenEdges(screen *usage.ScreenEvent) (newOn bool, off bool) {
	if screen == nil {
		return false, false
	}
	fresh := m.lastScreen == nil || *m.lastScreen != *screen
	return fresh && screen.Type == usage.ScreenOn, screen.Type == usage.ScreenOff
}

func (m *Machine) pulseFresh(in Inputs) bool {
	if in.SleepConfirmed == nil {
		return false
	}
	ts := *in.SleepConfirmed
	if m.lastPulse != nil && ts <= *m.lastPulse {
		return false
	}
	return ts >= m.windingSince
}

// next returns the target state and a reason; the reason is empty when the
// state does not change.
func (m *Machine) next(in Inputs, screenOn, screenOff bool) (State, string, bool) {
	switch m.state {
	case Unknown:
		if screenOn {
			return Awake, "screen on", false
		}

	case Awake:
		if screenOff && in.TrackingEnabled && in.InWindow {
			return WindingDown, "screen off inside bedtime window", false
		}

	case WindingDown:
		switch {
		case screenOn:
			return Awake, "screen on while winding down", false
		case !in.TrackingEnabled:
			return Awake, "bedtime tracking disabled", false
		case !in.InWindow:
			return Awake, "bedtime window ended before confirmation", false
		case m.pulseFresh(in):
			return Sleeping, "sleep confirmed", true
		case in.InactivityThreshold > 0 && screenOff &&
			in.Now-m.windingSince >= in.InactivityThreshold.Milliseconds():
			return Sleeping, "inactivity threshold reached", false
		}

	case Sleeping:
		switch {
		case screenOn:
			return Awake, "screen on while sleeping", false
		case !in.TrackingEnabled:
			return Awake, "bedtime tracking disabled", false
		case !in.InWindow:
			return Awake, "bedtime window ended", false
		}
	}
	return m.state, "", false
}

// transition must be called with mu held. The event is appended before the
// in-memory state changes.
func (m *Machine) transition(ctx context.Context, to State, now int64, reason string) error {
	ts := max(now, m.lastEvent)
	ev := Event{Timestamp: ts, State: to}
	if m.log != nil {
		if err := m.log.Append(ctx, ev); err != nil {
			m.logger.Error().Err(err).
				Str("from", string(m.state)).
				Str("to", string(to)).
				Msg("Failed to append presence event")
			return fmt.Errorf("failed to append presence event: %w", err)
		}
	}

	from := m.state
	m.state = to
	m.lastEvent = ts
	if to == WindingDown {
		m.windingSince = ts
	}
	m.cell.Set(ev)

	metrics.PresenceTransitions.WithLabelValues(string(from), string(to)).Inc()
	metrics.SetPresenceState(StateNames(), string(to))

	m.logger.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Int64("timestamp", ts).
		Str("reason", reason).
		Msg("Presence transition")
	return nil
}
