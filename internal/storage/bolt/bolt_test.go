package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
)

func TestPresenceStoreRangeAndLatest(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := []presence.Event{
		{Timestamp: 100, State: presence.Awake},
		{Timestamp: 200, State: presence.WindingDown},
		{Timestamp: 200, State: presence.Sleeping},
		{Timestamp: 500, State: presence.Awake},
	}
	for _, ev := range events {
		if err := store.Presence().Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.Presence().ListRange(ctx, 100, 500)
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events in [100,500), got %+v", got)
	}
	if got[1].State != presence.WindingDown || got[2].State != presence.Sleeping {
		t.Fatalf("equal timestamps lost append order: %+v", got)
	}

	latest, err := store.Presence().LatestAtOrBefore(ctx, 499)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Timestamp != 200 || latest.State != presence.Sleeping {
		t.Fatalf("latest at 499 = %+v", latest)
	}

	latest, err = store.Presence().LatestAtOrBefore(ctx, 500)
	if err != nil || latest.Timestamp != 500 {
		t.Fatalf("latest at 500 = %+v, %v", latest, err)
	}

	if _, err := store.Presence().LatestAtOrBefore(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first event, got %v", err)
	}

	deleted, err := store.Presence().DeleteBefore(ctx, 200)
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted event, got %d", deleted)
	}
}

func TestScreenStoreDeduplicates(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := []usage.ScreenEvent{
		{Timestamp: 10, Type: usage.ScreenOn},
		{Timestamp: 10, Type: usage.ScreenOn},
		{Timestamp: 20, Type: usage.ScreenOff},
		{Timestamp: 20, Type: usage.ScreenOn},
	}
	for _, ev := range events {
		if err := store.Screen().Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.Screen().ListRange(ctx, 0, 100)
	if err != nil {
		t.Fatalf("list range: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct events, got %+v", got)
	}
	if got[1].Type != usage.ScreenOff || got[2].Type != usage.ScreenOn {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestScreenStoreRejectsNegativeTimestamp(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	if err := store.Screen().Append(context.Background(), usage.ScreenEvent{Timestamp: -1, Type: usage.ScreenOn}); err == nil {
		t.Fatal("expected error for negative timestamp")
	}
}

func TestAppUsageSessions(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	apps := store.AppUsage()

	if _, err := apps.OpenSession(ctx, "com.chat", 100); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Reopening closes the previous session at the new start.
	if _, err := apps.OpenSession(ctx, "com.chat", 300); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	closed, err := apps.CloseSession(ctx, "com.chat", 400)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Start != 300 || closed.End == nil || *closed.End != 400 {
		t.Fatalf("closed session = %+v", closed)
	}
	if _, err := apps.CloseSession(ctx, "com.chat", 500); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound closing twice, got %v", err)
	}

	if _, err := apps.OpenSession(ctx, "com.maps", 50); err != nil {
		t.Fatalf("open maps: %v", err)
	}

	got, err := apps.ListOverlapping(ctx, 250, 350)
	if err != nil {
		t.Fatalf("list overlapping: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 overlapping sessions, got %+v", got)
	}
	var open int
	for _, ev := range got {
		if ev.Open() {
			open++
			if ev.PackageName != "com.maps" {
				t.Errorf("unexpected open session %+v", ev)
			}
		}
	}
	if open != 1 {
		t.Errorf("expected 1 open session, got %d", open)
	}

	deleted, err := apps.DeleteEndedBefore(ctx, 350)
	if err != nil {
		t.Fatalf("delete ended before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}
}

func TestAppUsageCloseClampsEnd(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if _, err := store.AppUsage().OpenSession(ctx, "com.video", 1000); err != nil {
		t.Fatalf("open: %v", err)
	}
	closed, err := store.AppUsage().CloseSession(ctx, "com.video", 900)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if *closed.End != 1000 {
		t.Fatalf("expected end clamped to start, got %d", *closed.End)
	}
}

func TestScheduleStore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sched := schedule.Schedule{
		ID:   "school-nights",
		Name: "School nights",
		Groups: []schedule.Group{{
			Name:   "bedtime",
			Blocks: []schedule.TimeBlock{{Day: time.Sunday, StartMinute: 21 * 60, EndMinute: 7 * 60}},
		}},
	}
	if err := store.Schedules().Put(ctx, sched); err != nil {
		t.Fatalf("put: %v", err)
	}

	bad := sched
	bad.ID = "bad"
	bad.Groups = []schedule.Group{{Blocks: []schedule.TimeBlock{{Day: time.Monday, StartMinute: 60, EndMinute: 60}}}}
	if err := store.Schedules().Put(ctx, bad); !errors.Is(err, schedule.ErrInvalidBlock) {
		t.Fatalf("expected ErrInvalidBlock, got %v", err)
	}

	source := storage.ScheduleSource(store.Schedules())
	got, err := source.Get(ctx, "school-nights")
	if err != nil {
		t.Fatalf("source get: %v", err)
	}
	if got.Name != sched.Name || len(got.Groups[0].Blocks) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if err := store.Schedules().Delete(ctx, "school-nights"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := source.Get(ctx, "school-nights"); !errors.Is(err, schedule.ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
	list, err := store.Schedules().List(ctx)
	if err != nil || len(list) != 0 {
		t.Fatalf("list = %+v, %v", list, err)
	}
}

func TestSettingsStore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	empty, err := store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if empty.BedtimeTrackingEnabled != nil {
		t.Fatalf("expected empty overrides, got %+v", empty)
	}

	enabled := true
	interval := settings.Duration(45 * time.Minute)
	if err := store.Settings().Put(ctx, &settings.Overrides{BedtimeTrackingEnabled: &enabled, ReminderInterval: &interval}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BedtimeTrackingEnabled == nil || !*got.BedtimeTrackingEnabled {
		t.Fatalf("tracking flag lost: %+v", got)
	}
	if got.ReminderInterval == nil || time.Duration(*got.ReminderInterval) != 45*time.Minute {
		t.Fatalf("interval lost: %+v", got)
	}
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "restwell.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Presence().Append(context.Background(), presence.Event{Timestamp: 1, State: presence.Awake}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()
	latest, err := store.Presence().LatestAtOrBefore(context.Background(), 10)
	if err != nil || latest.State != presence.Awake {
		t.Fatalf("latest after reopen = %+v, %v", latest, err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "restwell.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
