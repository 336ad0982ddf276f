// Package settings supplies the user-toggleable values the engines re-read on
// every evaluation.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/restwell/internal/schedule"
)

// ErrInvalid is returned by Update when the merged settings are unusable.
var ErrInvalid = errors.New("invalid settings")

// Snapshot is a read-only view of the current settings.
type Snapshot struct {
	BedtimeTrackingEnabled bool                `json:"bedtime_tracking_enabled"`
	InactivityThreshold    time.Duration       `json:"inactivity_threshold"`
	ScheduleID             string              `json:"schedule_id,omitempty"`
	ManualBedtime          string              `json:"manual_bedtime,omitempty"`
	ManualWake             string              `json:"manual_wake,omitempty"`
	Precedence             schedule.Precedence `json:"precedence"`
	BinSize                time.Duration       `json:"bin_size"`
	RemindersEnabled       bool                `json:"reminders_enabled"`
	ReminderInterval       time.Duration       `json:"reminder_interval"`
	SnoozeUntil            *int64              `json:"snooze_until,omitempty"`
}

// Selection returns the bedtime window selection for the schedule resolver.
// An incomplete manual pair is treated as unset.
func (s Snapshot) Selection() (schedule.Selection, error) {
	sel := schedule.Selection{
		ScheduleID: s.ScheduleID,
		Precedence: s.Precedence,
	}
	if s.ManualBedtime != "" && s.ManualWake != "" {
		manual, err := schedule.NewManualWindow(s.ManualBedtime, s.ManualWake)
		if err != nil {
			return sel, fmt.Errorf("manual window: %w", err)
		}
		sel.Manual = manual
	}
	return sel, nil
}

// Validate checks the snapshot is usable by the engines.
func (s Snapshot) Validate() error {
	if s.InactivityThreshold < 0 {
		return fmt.Errorf("inactivity_threshold must not be negative")
	}
	if s.BinSize <= 0 {
		return fmt.Errorf("bin_size must be positive")
	}
	if s.ReminderInterval <= 0 {
		return fmt.Errorf("reminder_interval must be positive")
	}
	if _, err := schedule.ParsePrecedence(string(s.Precedence)); err != nil {
		return err
	}
	_, err := s.Selection()
	return err
}

// Apply returns s with every non-nil override applied.
func (s Snapshot) Apply(o *Overrides) Snapshot {
	if o == nil {
		return s
	}
	if o.BedtimeTrackingEnabled != nil {
		s.BedtimeTrackingEnabled = *o.BedtimeTrackingEnabled
	}
	if o.InactivityThreshold != nil {
		s.InactivityThreshold = time.Duration(*o.InactivityThreshold)
	}
	if o.ScheduleID != nil {
		s.ScheduleID = *o.ScheduleID
	}
	if o.ManualBedtime != nil {
		s.ManualBedtime = *o.ManualBedtime
	}
	if o.ManualWake != nil {
		s.ManualWake = *o.ManualWake
	}
	if o.Precedence != nil {
		s.Precedence = schedule.Precedence(*o.Precedence)
	}
	if o.BinSize != nil {
		s.BinSize = time.Duration(*o.BinSize)
	}
	if o.RemindersEnabled != nil {
		s.RemindersEnabled = *o.RemindersEnabled
	}
	if o.ReminderInterval != nil {
		s.ReminderInterval = time.Duration(*o.ReminderInterval)
	}
	if o.SnoozeUntil != nil {
		snooze := *o.SnoozeUntil
		s.SnoozeUntil = &snooze
	}
	return s
}

// Duration is a time.Duration that marshals as a Go duration string.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string such as "30m".
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Overrides is the persisted settings record. Nil fields fall back to the
// configured defaults.
type Overrides struct {
	BedtimeTrackingEnabled *bool     `json:"bedtime_tracking_enabled,omitempty"`
	InactivityThreshold    *Duration `json:"inactivity_threshold,omitempty"`
	ScheduleID             *string   `json:"schedule_id,omitempty"`
	ManualBedtime          *string   `json:"manual_bedtime,omitempty"`
	ManualWake             *string   `json:"manual_wake,omitempty"`
	Precedence             *string   `json:"precedence,omitempty"`
	BinSize                *Duration `json:"bin_size,omitempty"`
	RemindersEnabled       *bool     `json:"reminders_enabled,omitempty"`
	ReminderInterval       *Duration `json:"reminder_interval,omitempty"`
	SnoozeUntil            *int64    `json:"snooze_until,omitempty"`
}

// Merge copies every non-nil field of patch onto o.
func (o *Overrides) Merge(patch *Overrides) {
	if patch == nil {
		return
	}
	if patch.BedtimeTrackingEnabled != nil {
		o.BedtimeTrackingEnabled = patch.BedtimeTrackingEnabled
	}
	if patch.InactivityThreshold != nil {
		o.InactivityThreshold = patch.InactivityThreshold
	}
	if patch.ScheduleID != nil {
		o.ScheduleID = patch.ScheduleID
	}
	if patch.ManualBedtime != nil {
		o.ManualBedtime = patch.ManualBedtime
	}
	if patch.ManualWake != nil {
		o.ManualWake = patch.ManualWake
	}
	if patch.Precedence != nil {
		o.Precedence = patch.Precedence
	}
	if patch.BinSize != nil {
		o.BinSize = patch.BinSize
	}
	if patch.RemindersEnabled != nil {
		o.RemindersEnabled = patch.RemindersEnabled
	}
	if patch.ReminderInterval != nil {
		o.ReminderInterval = patch.ReminderInterval
	}
	if patch.SnoozeUntil != nil {
		o.SnoozeUntil = patch.SnoozeUntil
	}
}

// Provider returns a fresh snapshot for each evaluation.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Static returns a provider that always yields s.
func Static(s Snapshot) Provider {
	return staticProvider{snapshot: s}
}

type staticProvider struct {
	snapshot Snapshot
}

func (p staticProvider) Snapshot(context.Context) (Snapshot, error) {
	return p.snapshot, nil
}

// Store persists the overrides record. Get returns an empty record when
// nothing has been saved.
type Store interface {
	Get(ctx context.Context) (*Overrides, error)
	Put(ctx context.Context, o *Overrides) error
}

// StoreProvider overlays the persisted overrides on configured defaults.
type StoreProvider struct {
	defaults Snapshot
	store    Store
}

// NewStoreProvider creates a provider reading overrides from store.
func NewStoreProvider(defaults Snapshot, store Store) *StoreProvider {
	return &StoreProvider{defaults: defaults, store: store}
}

// Defaults returns the configured defaults.
func (p *StoreProvider) Defaults() Snapshot {
	return p.defaults
}

// Snapshot implements Provider.
func (p *StoreProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	o, err := p.store.Get(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return p.defaults.Apply(o), nil
}

// Update merges patch into the persisted overrides after checking the
// resulting snapshot is valid.
func (p *StoreProvider) Update(ctx context.Context, patch *Overrides) (Snapshot, error) {
	current, err := p.store.Get(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if current == nil {
		current = &Overrides{}
	}
	current.Merge(patch)

	snap := p.defaults.Apply(current)
	if err := snap.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := p.store.Put(ctx, current); err != nil {
		return Snapshot{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return snap, nil
}
