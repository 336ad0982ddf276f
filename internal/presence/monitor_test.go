package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

// 2024-01-01 23:00 UTC, inside a 22:00-07:00 bedtime window.
var bedtime = time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)

func ms(d time.Duration) int64 { return bedtime.Add(d).UnixMilli() }

func newTestMonitor(t *testing.T, reorder time.Duration) (*Monitor, *TestClock, *memLog) {
	t.Helper()
	log := &memLog{}
	machine := NewMachine(log, NewCell(), zerolog.Nop())
	clock := &TestClock{CurrentTime: bedtime}
	provider := settings.Static(settings.Snapshot{
		BedtimeTrackingEnabled: true,
		InactivityThreshold:    30 * time.Minute,
		ManualBedtime:          "22:00",
		ManualWake:             "07:00",
		Precedence:             schedule.PreferSchedule,
		BinSize:                time.Hour,
		ReminderInterval:       time.Hour,
	})
	resolver := schedule.NewResolver(nil, zerolog.Nop())
	m := NewMonitor(machine, provider, resolver, clock, MonitorConfig{
		ReorderWindow: reorder,
		TickInterval:  time.Hour,
		Location:      time.UTC,
	}, zerolog.Nop())
	return m, clock, log
}

func TestMonitorReordersWithinWindow(t *testing.T) {
	m, clock, _ := newTestMonitor(t, 5*time.Second)
	ctx := context.Background()
	if _, err := m.machine.Start(ctx, ms(0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// OFF arrives before the earlier ON.
	m.accept(Signal{Kind: SignalScreen, Timestamp: ms(2 * time.Second), Screen: usage.ScreenOff})
	m.accept(Signal{Kind: SignalScreen, Timestamp: ms(time.Second), Screen: usage.ScreenOn})

	clock.Set(bedtime.Add(3 * time.Second))
	m.flush(ctx)
	if m.pending.Len() != 2 {
		t.Fatalf("signals inside the reorder window should be held, pending=%d", m.pending.Len())
	}

	clock.Set(bedtime.Add(8 * time.Second))
	m.flush(ctx)
	if m.pending.Len() != 0 {
		t.Fatalf("expected all signals flushed, pending=%d", m.pending.Len())
	}
	if m.machine.State() != WindingDown {
		t.Errorf("state = %s, want WINDING_DOWN (ON then OFF in timestamp order)", m.machine.State())
	}
}

func TestMonitorDropsLateSignals(t *testing.T) {
	m, clock, _ := newTestMonitor(t, 0)
	ctx := context.Background()
	if _, err := m.machine.Start(ctx, ms(0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Set(bedtime.Add(time.Minute))
	m.accept(Signal{Kind: SignalScreen, Timestamp: ms(30 * time.Second), Screen: usage.ScreenOff})
	m.flush(ctx)
	if m.machine.State() != WindingDown {
		t.Fatalf("state = %s, want WINDING_DOWN", m.machine.State())
	}

	m.accept(Signal{Kind: SignalScreen, Timestamp: ms(10 * time.Second), Screen: usage.ScreenOn})
	if m.pending.Len() != 0 {
		t.Fatal("late signal should have been dropped")
	}
	m.flush(ctx)
	if m.machine.State() != WindingDown {
		t.Errorf("late ON changed state to %s", m.machine.State())
	}
}

func TestMonitorTickEscalatesAfterThreshold(t *testing.T) {
	m, clock, log := newTestMonitor(t, 0)
	ctx := context.Background()
	if _, err := m.machine.Start(ctx, ms(0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Set(bedtime.Add(time.Second))
	m.accept(Signal{Kind: SignalScreen, Timestamp: ms(time.Second), Screen: usage.ScreenOff})
	m.flush(ctx)

	clock.Set(bedtime.Add(20 * time.Minute))
	m.tick(ctx)
	if m.machine.State() != WindingDown {
		t.Fatalf("state = %s before threshold, want WINDING_DOWN", m.machine.State())
	}

	clock.Set(bedtime.Add(31 * time.Minute))
	m.tick(ctx)
	if m.machine.State() != Sleeping {
		t.Fatalf("state = %s after threshold, want SLEEPING", m.machine.State())
	}

	events := log.snapshot()
	last := events[len(events)-1]
	if last.Timestamp != ms(31*time.Minute) {
		t.Errorf("SLEEPING recorded at %d, want tick time %d", last.Timestamp, ms(31*time.Minute))
	}
}

func TestMonitorWindowEndWakes(t *testing.T) {
	m, clock, _ := newTestMonitor(t, 0)
	ctx := context.Background()
	if _, err := m.machine.Start(ctx, ms(0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Set(bedtime.Add(time.Second))
	m.accept(Signal{Kind: SignalScreen, Timestamp: ms(time.Second), Screen: usage.ScreenOff})
	m.accept(Signal{Kind: SignalSleepConfirmed, Timestamp: ms(time.Second)})
	m.flush(ctx)
	if m.machine.State() != Sleeping {
		t.Fatalf("state = %s, want SLEEPING", m.machine.State())
	}

	// 07:00 the next morning.
	clock.Set(bedtime.Add(8 * time.Hour))
	m.tick(ctx)
	if m.machine.State() != Awake {
		t.Errorf("state = %s after wake boundary, want AWAKE", m.machine.State())
	}
}

func TestMonitorLifecycle(t *testing.T) {
	m, clock, log := newTestMonitor(t, 0)
	ctx := context.Background()

	if err := m.Submit(Signal{Kind: SignalScreen, Timestamp: ms(time.Second), Screen: usage.ScreenOff}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Submit before Start: got %v, want ErrNotRunning", err)
	}

	updates, cancel := m.Machine().Cell().Subscribe()
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.Running() {
		t.Fatal("expected monitor to be running")
	}

	clock.Set(bedtime.Add(10 * time.Second))
	if err := m.Submit(Signal{Kind: SignalScreen, Timestamp: ms(time.Second), Screen: usage.ScreenOff}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForState(t, updates, WindingDown)

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.Machine().State() != Unknown {
		t.Errorf("state after Stop = %s, want UNKNOWN", m.Machine().State())
	}
	if err := m.Submit(Signal{Kind: SignalTick, Timestamp: ms(time.Minute)}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit after Stop: got %v, want ErrNotRunning", err)
	}

	events := log.snapshot()
	if events[0].State != Awake || events[len(events)-1].State != Unknown {
		t.Errorf("unexpected event log %+v", events)
	}
}

type fakeScreens struct {
	ev  *usage.ScreenEvent
	err error
}

func (f fakeScreens) LatestAtOrBefore(_ context.Context, at int64) (*usage.ScreenEvent, error) {
	if f.ev == nil || f.ev.Timestamp > at {
		return nil, f.err
	}
	return f.ev, f.err
}

func TestMonitorSeedsStoredScreen(t *testing.T) {
	off := &usage.ScreenEvent{Timestamp: ms(0), Type: usage.ScreenOff}
	on := &usage.ScreenEvent{Timestamp: ms(-time.Minute), Type: usage.ScreenOn}

	tests := []struct {
		name     string
		restored State
		screens  ScreenHistory
		want     State
	}{
		{"stored off reaches inactivity threshold", WindingDown, fakeScreens{ev: off}, Sleeping},
		{"no stored screen", WindingDown, fakeScreens{}, WindingDown},
		{"history unavailable", WindingDown, fakeScreens{err: errors.New("disk gone")}, WindingDown},
		{"no history configured", WindingDown, nil, WindingDown},
		{"stored on does not wake a sleeper", Sleeping, fakeScreens{ev: on}, Sleeping},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clock, _ := newTestMonitor(t, 0)
			m.cfg.Screens = tt.screens
			ctx := context.Background()
			m.machine.Restore(Event{Timestamp: ms(0), State: tt.restored})

			clock.Set(bedtime.Add(31 * time.Minute))
			m.reset()
			m.seedScreen(ctx)
			m.tick(ctx)

			if got := m.machine.State(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMonitorRunIgnoresQueuedSignalsAfterCancel(t *testing.T) {
	// Repeat so both orders of a ready select are exercised.
	for i := 0; i < 32; i++ {
		m, _, log := newTestMonitor(t, 0)
		if _, err := m.machine.Start(context.Background(), ms(0)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		m.queue <- Signal{Kind: SignalScreen, Timestamp: ms(0), Screen: usage.ScreenOff}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m.run(ctx, make(chan struct{}))

		if got := m.machine.State(); got != Awake {
			t.Fatalf("run %d: state = %s after cancel, want AWAKE", i, got)
		}
		if n := len(log.snapshot()); n != 1 {
			t.Fatalf("run %d: %d events logged, want only the start", i, n)
		}
		if len(m.queue) != 0 || m.pending.Len() != 0 {
			t.Fatalf("run %d: signals left queued=%d pending=%d", i, len(m.queue), m.pending.Len())
		}
	}
}

func TestSignalValidate(t *testing.T) {
	tests := []struct {
		name    string
		sig     Signal
		wantErr bool
	}{
		{"screen on", Signal{Kind: SignalScreen, Timestamp: 1, Screen: usage.ScreenOn}, false},
		{"sleep confirmed", Signal{Kind: SignalSleepConfirmed, Timestamp: 1}, false},
		{"screen without type", Signal{Kind: SignalScreen, Timestamp: 1}, true},
		{"unknown kind", Signal{Kind: "vibrate", Timestamp: 1}, true},
		{"zero timestamp", Signal{Kind: SignalTick}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.sig.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func waitForState(t *testing.T, updates <-chan Event, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-updates:
			if ev.State == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}
