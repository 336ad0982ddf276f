package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/restwell/internal/schedule"
)

type memStore struct {
	record *Overrides
	puts   int
}

func (m *memStore) Get(context.Context) (*Overrides, error) {
	if m.record == nil {
		return &Overrides{}, nil
	}
	cp := *m.record
	return &cp, nil
}

func (m *memStore) Put(_ context.Context, o *Overrides) error {
	cp := *o
	m.record = &cp
	m.puts++
	return nil
}

func defaults() Snapshot {
	return Snapshot{
		BedtimeTrackingEnabled: true,
		InactivityThreshold:    30 * time.Minute,
		ManualBedtime:          "22:00",
		ManualWake:             "07:00",
		Precedence:             schedule.PreferSchedule,
		BinSize:                time.Hour,
		RemindersEnabled:       true,
		ReminderInterval:       time.Hour,
	}
}

func TestStoreProviderDefaults(t *testing.T) {
	p := NewStoreProvider(defaults(), &memStore{})
	snap, err := p.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.InactivityThreshold != 30*time.Minute || !snap.BedtimeTrackingEnabled {
		t.Errorf("expected defaults, got %+v", snap)
	}
}

func TestStoreProviderUpdate(t *testing.T) {
	store := &memStore{}
	p := NewStoreProvider(defaults(), store)
	ctx := context.Background()

	off := false
	threshold := Duration(45 * time.Minute)
	if _, err := p.Update(ctx, &Overrides{BedtimeTrackingEnabled: &off, InactivityThreshold: &threshold}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	snap, err := p.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.BedtimeTrackingEnabled {
		t.Error("expected tracking disabled after update")
	}
	if snap.InactivityThreshold != 45*time.Minute {
		t.Errorf("InactivityThreshold = %v, want 45m", snap.InactivityThreshold)
	}
	if snap.ReminderInterval != time.Hour {
		t.Errorf("untouched field changed: %v", snap.ReminderInterval)
	}

	// A later patch keeps earlier overrides.
	id := "weeknights"
	if _, err := p.Update(ctx, &Overrides{ScheduleID: &id}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap, _ = p.Snapshot(ctx)
	if snap.ScheduleID != "weeknights" || snap.BedtimeTrackingEnabled {
		t.Errorf("expected merged overrides, got %+v", snap)
	}
}

func TestStoreProviderUpdateRejectsInvalid(t *testing.T) {
	store := &memStore{}
	p := NewStoreProvider(defaults(), store)

	bad := "25:00"
	if _, err := p.Update(context.Background(), &Overrides{ManualBedtime: &bad}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("invalid bedtime: got %v, want ErrInvalid", err)
	}
	zero := Duration(0)
	if _, err := p.Update(context.Background(), &Overrides{ReminderInterval: &zero}); err == nil {
		t.Fatal("expected error for zero reminder interval")
	}
	prec := "whenever"
	if _, err := p.Update(context.Background(), &Overrides{Precedence: &prec}); err == nil {
		t.Fatal("expected error for invalid precedence")
	}
	if store.puts != 0 {
		t.Errorf("invalid updates must not be persisted, got %d puts", store.puts)
	}
}

func TestSelection(t *testing.T) {
	snap := defaults()
	snap.ScheduleID = "s1"
	sel, err := snap.Selection()
	if err != nil {
		t.Fatalf("Selection: %v", err)
	}
	if sel.ScheduleID != "s1" || sel.Manual == nil {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if sel.Manual.Bedtime != 22*60 || sel.Manual.Wake != 7*60 {
		t.Errorf("manual window = %+v", sel.Manual)
	}

	snap.ManualWake = ""
	sel, err = snap.Selection()
	if err != nil {
		t.Fatalf("Selection: %v", err)
	}
	if sel.Manual != nil {
		t.Error("incomplete manual pair should be unset")
	}
}

func TestDurationJSON(t *testing.T) {
	var o Overrides
	if err := json.Unmarshal([]byte(`{"inactivity_threshold":"20m","snooze_until":1000}`), &o); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if o.InactivityThreshold == nil || time.Duration(*o.InactivityThreshold) != 20*time.Minute {
		t.Errorf("InactivityThreshold = %v", o.InactivityThreshold)
	}
	if o.SnoozeUntil == nil || *o.SnoozeUntil != 1000 {
		t.Errorf("SnoozeUntil = %v", o.SnoozeUntil)
	}

	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"inactivity_threshold":"20m0s","snooze_until":1000}` {
		t.Errorf("Marshal = %s", data)
	}

	if err := json.Unmarshal([]byte(`{"bin_size":3600}`), &o); err == nil {
		t.Error("expected error for numeric duration")
	}
}
