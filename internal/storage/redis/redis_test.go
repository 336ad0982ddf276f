package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/restwell/internal/config"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/usage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpenInvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "soon", ReadTimeout: "1s", WriteTimeout: "1s"})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}

func TestPresenceStore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := []presence.Event{
		{Timestamp: 1000, State: presence.Awake},
		{Timestamp: 2000, State: presence.WindingDown},
		{Timestamp: 2000, State: presence.Sleeping},
		{Timestamp: 5000, State: presence.Awake},
	}
	for _, ev := range events {
		if err := store.Presence().Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Presence().ListRange(ctx, 1000, 5000)
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	if got[1].State != presence.WindingDown || got[2].State != presence.Sleeping {
		t.Errorf("Equal timestamps out of append order: %+v", got)
	}

	latest, err := store.Presence().LatestAtOrBefore(ctx, 4999)
	if err != nil {
		t.Fatalf("LatestAtOrBefore failed: %v", err)
	}
	if latest.State != presence.Sleeping {
		t.Errorf("Expected SLEEPING, got %s", latest.State)
	}

	if _, err := store.Presence().LatestAtOrBefore(ctx, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	deleted, err := store.Presence().DeleteBefore(ctx, 2000)
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}
}

func TestScreenStoreDeduplicatesAndPrunes(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	events := []usage.ScreenEvent{
		{Timestamp: 100, Type: usage.ScreenOn},
		{Timestamp: 100, Type: usage.ScreenOn},
		{Timestamp: 200, Type: usage.ScreenOff},
		{Timestamp: 300, Type: usage.ScreenOn},
	}
	for _, ev := range events {
		if err := store.Screen().Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Screen().ListRange(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 events after de-duplication, got %d", len(got))
	}

	deleted, err := store.Screen().DeleteBefore(ctx, 250)
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}

	seen, err := mr.HKeys(keyScreenSeen)
	if err != nil {
		t.Fatalf("HKeys failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != "300:ON" {
		t.Errorf("Expected only 300:ON in seen set, got %v", seen)
	}

	// A pruned pair may be appended again.
	if err := store.Screen().Append(ctx, usage.ScreenEvent{Timestamp: 100, Type: usage.ScreenOn}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	latest, err := store.Screen().LatestAtOrBefore(ctx, 150)
	if err != nil || latest.Timestamp != 100 {
		t.Errorf("Expected re-appended event at 100, got %+v, %v", latest, err)
	}
}

func TestAppUsageStore(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	apps := store.AppUsage()

	first, err := apps.OpenSession(ctx, "com.chat", 100)
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if _, err := apps.OpenSession(ctx, "com.chat", 300); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if end := mr.HGet(keyAppSession+first.ID, "end"); end != "300" {
		t.Errorf("Expected first session closed at 300, got %q", end)
	}

	closed, err := apps.CloseSession(ctx, "com.chat", 250)
	if err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if closed.End == nil || *closed.End != 300 {
		t.Errorf("Expected end clamped to start 300, got %+v", closed.End)
	}
	if _, err := apps.CloseSession(ctx, "com.chat", 400); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if _, err := apps.OpenSession(ctx, "com.maps", 50); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	got, err := apps.ListOverlapping(ctx, 200, 1000)
	if err != nil {
		t.Fatalf("ListOverlapping failed: %v", err)
	}
	// [100,300), the clamped [300,300) and the open maps session.
	if len(got) != 3 {
		t.Fatalf("Expected 3 sessions, got %+v", got)
	}

	deleted, err := apps.DeleteEndedBefore(ctx, 301)
	if err != nil {
		t.Fatalf("DeleteEndedBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	if mr.Exists(keyAppSession + first.ID) {
		t.Error("Expected session hash removed")
	}
}

func TestScheduleStore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sched := schedule.Schedule{
		ID:   "weeknights",
		Name: "Weeknights",
		Groups: []schedule.Group{{
			Name:   "bedtime",
			Blocks: []schedule.TimeBlock{{Day: time.Monday, StartMinute: 22 * 60, EndMinute: 6 * 60}},
		}},
	}
	if err := store.Schedules().Put(ctx, sched); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Schedules().Get(ctx, "weeknights")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Groups[0].Blocks[0].EndMinute != 6*60 {
		t.Errorf("Unexpected schedule: %+v", got)
	}

	list, err := store.Schedules().List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %+v, %v", list, err)
	}

	if err := store.Schedules().Delete(ctx, "weeknights"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Schedules().Delete(ctx, "weeknights"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.Schedules().Get(ctx, "weeknights"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSettingsStore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	o, err := store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if o.RemindersEnabled != nil {
		t.Errorf("Expected empty overrides, got %+v", o)
	}

	off := false
	snooze := int64(12345)
	if err := store.Settings().Put(ctx, &settings.Overrides{RemindersEnabled: &off, SnoozeUntil: &snooze}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	o, err = store.Settings().Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if o.RemindersEnabled == nil || *o.RemindersEnabled || o.SnoozeUntil == nil || *o.SnoozeUntil != snooze {
		t.Errorf("Unexpected overrides: %+v", o)
	}
}
