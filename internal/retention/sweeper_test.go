package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/storage/bolt"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func day(n int) int64 { return epoch.AddDate(0, 0, n).UnixMilli() }

func TestNewSweeperValidates(t *testing.T) {
	if _, err := NewSweeper(nil, 0, "03:00", zerolog.Nop()); err == nil {
		t.Error("expected error for zero retention")
	}
	if _, err := NewSweeper(nil, 30, "3am", zerolog.Nop()); err == nil {
		t.Error("expected error for bad sweep time")
	}
}

func TestNextSweep(t *testing.T) {
	s, err := NewSweeper(nil, 30, "03:30", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{epoch.Add(2 * time.Hour), epoch.Add(3*time.Hour + 30*time.Minute)},
		{epoch.Add(3*time.Hour + 30*time.Minute), epoch.AddDate(0, 0, 1).Add(3*time.Hour + 30*time.Minute)},
		{epoch.Add(23 * time.Hour), epoch.AddDate(0, 0, 1).Add(3*time.Hour + 30*time.Minute)},
	}
	for _, tt := range tests {
		s.SetClock(&presence.TestClock{CurrentTime: tt.now})
		if got := s.nextSweep(); !got.Equal(tt.want) {
			t.Errorf("nextSweep at %s = %s, want %s", tt.now, got, tt.want)
		}
	}
}

func TestSweep(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "restwell.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	for _, ev := range []presence.Event{
		{Timestamp: day(1), State: presence.Awake},
		{Timestamp: day(5), State: presence.WindingDown},
		{Timestamp: day(20), State: presence.Awake},
	} {
		if err := store.Presence().Append(ctx, ev); err != nil {
			t.Fatalf("append presence: %v", err)
		}
	}
	for _, ev := range []usage.ScreenEvent{
		{Timestamp: day(1), Type: usage.ScreenOn},
		{Timestamp: day(2), Type: usage.ScreenOff},
		{Timestamp: day(15), Type: usage.ScreenOn},
	} {
		if err := store.Screen().Append(ctx, ev); err != nil {
			t.Fatalf("append screen: %v", err)
		}
	}
	sessions := []struct {
		pkg        string
		start, end int64
	}{
		{"com.example.old", day(1), day(3)},
		{"com.example.recent", day(9), day(12)},
	}
	for _, s := range sessions {
		if _, err := store.AppUsage().OpenSession(ctx, s.pkg, s.start); err != nil {
			t.Fatalf("open session: %v", err)
		}
		if _, err := store.AppUsage().CloseSession(ctx, s.pkg, s.end); err != nil {
			t.Fatalf("close session: %v", err)
		}
	}
	if _, err := store.AppUsage().OpenSession(ctx, "com.example.open", day(2)); err != nil {
		t.Fatalf("open session: %v", err)
	}

	s, err := NewSweeper(store, 30, "03:00", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.SetClock(&presence.TestClock{CurrentTime: epoch.AddDate(0, 0, 40)})

	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Cutoff != day(10) {
		t.Errorf("cutoff = %d, want %d", res.Cutoff, day(10))
	}
	if res.Presence != 1 || res.Screen != 1 || res.AppSessions != 1 {
		t.Errorf("result = %+v, want 1 of each", res)
	}

	// The carried presence state survives so segments from the cutoff are intact.
	latest, err := store.Presence().LatestAtOrBefore(ctx, day(10))
	if err != nil || latest.State != presence.WindingDown {
		t.Errorf("carried presence event = %+v, %v", latest, err)
	}
	latestScreen, err := store.Screen().LatestAtOrBefore(ctx, day(10))
	if err != nil || latestScreen.Type != usage.ScreenOff {
		t.Errorf("carried screen event = %+v, %v", latestScreen, err)
	}

	remaining, err := store.AppUsage().ListOverlapping(ctx, 0, day(41))
	if err != nil {
		t.Fatalf("ListOverlapping: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected open and recent sessions to remain, got %+v", remaining)
	}

	// A second sweep finds nothing new.
	res, err = s.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if res.Presence != 0 || res.Screen != 0 || res.AppSessions != 0 {
		t.Errorf("second sweep = %+v, want nothing", res)
	}
}

func TestStartStop(t *testing.T) {
	s, err := NewSweeper(nil, 30, "03:00", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.SetClock(&presence.TestClock{CurrentTime: epoch})
	s.Start()
	s.Stop()
}
