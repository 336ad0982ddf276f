// Package ingest records device signals and forwards them to the presence
// monitor.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

// ErrInvalidEnvelope is returned for malformed signal envelopes.
var ErrInvalidEnvelope = errors.New("invalid signal envelope")

// Kind identifies a signal envelope.
type Kind string

const (
	KindScreen         Kind = "screen"
	KindSleepConfirmed Kind = "sleep_confirmed"
	KindAppOpen        Kind = "app_open"
	KindAppClose       Kind = "app_close"
)

// Envelope is one signal as published by a device.
type Envelope struct {
	Kind      Kind             `json:"kind"`
	Timestamp int64            `json:"timestamp"`
	Type      usage.ScreenType `json:"type,omitempty"`
	Package   string           `json:"package,omitempty"`
}

// Validate checks the envelope carries the fields its kind needs.
func (e Envelope) Validate() error {
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp must be positive", ErrInvalidEnvelope)
	}
	switch e.Kind {
	case KindScreen:
		if e.Type != usage.ScreenOn && e.Type != usage.ScreenOff {
			return fmt.Errorf("%w: screen type %q", ErrInvalidEnvelope, e.Type)
		}
	case KindSleepConfirmed:
	case KindAppOpen, KindAppClose:
		if e.Package == "" {
			return fmt.Errorf("%w: package is required", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, e.Kind)
	}
	return nil
}

// Submitter accepts presence signals; *presence.Monitor implements it.
type Submitter interface {
	Submit(sig presence.Signal) error
}

// Recorder persists signals and hands presence inputs to the monitor.
type Recorder struct {
	store   storage.Store
	monitor Submitter
	logger  zerolog.Logger
}

// NewRecorder creates a recorder. monitor may be nil when presence
// monitoring is not wired.
func NewRecorder(store storage.Store, monitor Submitter, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		monitor: monitor,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Record stores env and forwards it to the monitor. A stopped monitor is not
// an error: the signal is still persisted for timeline queries.
func (r *Recorder) Record(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	switch env.Kind {
	case KindScreen:
		ev := usage.ScreenEvent{Timestamp: env.Timestamp, Type: env.Type}
		if err := r.store.Screen().Append(ctx, ev); err != nil {
			return fmt.Errorf("store screen event: %w", err)
		}
		return r.submit(presence.Signal{Kind: presence.SignalScreen, Timestamp: env.Timestamp, Screen: env.Type})

	case KindSleepConfirmed:
		return r.submit(presence.Signal{Kind: presence.SignalSleepConfirmed, Timestamp: env.Timestamp})

	case KindAppOpen:
		if _, err := r.store.AppUsage().OpenSession(ctx, env.Package, env.Timestamp); err != nil {
			return fmt.Errorf("open app session: %w", err)
		}

	case KindAppClose:
		_, err := r.store.AppUsage().CloseSession(ctx, env.Package, env.Timestamp)
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Debug().Str("package", env.Package).Msg("Close without an open session")
			return nil
		}
		if err != nil {
			return fmt.Errorf("close app session: %w", err)
		}
	}
	return nil
}

func (r *Recorder) submit(sig presence.Signal) error {
	if r.monitor == nil {
		return nil
	}
	err := r.monitor.Submit(sig)
	if errors.Is(err, presence.ErrNotRunning) {
		r.logger.Debug().Str("kind", string(sig.Kind)).Msg("Presence monitor stopped, signal stored only")
		return nil
	}
	return err
}
