package presence

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

var (
	// ErrNotRunning is returned by Submit while monitoring is stopped.
	ErrNotRunning = errors.New("presence monitor is not running")
	// ErrQueueFull is returned by Submit when the signal queue is full.
	ErrQueueFull = errors.New("presence signal queue is full")
)

// SignalKind identifies a monitor input.
type SignalKind string

const (
	SignalScreen         SignalKind = "screen"
	SignalSleepConfirmed SignalKind = "sleep_confirmed"
	SignalTick           SignalKind = "tick"
)

// Signal is one timestamped input to the monitor.
type Signal struct {
	Kind      SignalKind       `json:"kind"`
	Timestamp int64            `json:"timestamp"`
	Screen    usage.ScreenType `json:"screen,omitempty"`
}

// Validate checks the signal is well formed.
func (s Signal) Validate() error {
	switch s.Kind {
	case SignalScreen:
		if s.Screen != usage.ScreenOn && s.Screen != usage.ScreenOff {
			return fmt.Errorf("invalid screen type: %q", s.Screen)
		}
	case SignalSleepConfirmed, SignalTick:
	default:
		return fmt.Errorf("invalid signal kind: %q", s.Kind)
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("signal timestamp must be positive")
	}
	return nil
}

// WindowResolver turns a settings selection into a bedtime window.
type WindowResolver interface {
	Resolve(ctx context.Context, sel schedule.Selection) (schedule.Window, error)
}

// ScreenHistory returns the newest stored screen event at or before at, or
// nil when there is none.
type ScreenHistory interface {
	LatestAtOrBefore(ctx context.Context, at int64) (*usage.ScreenEvent, error)
}

// MonitorConfig holds monitor tuning.
type MonitorConfig struct {
	// ReorderWindow is how long a signal is held so that late arrivals with
	// earlier timestamps can be evaluated first.
	ReorderWindow time.Duration
	// TickInterval is how often elapsed time alone is evaluated.
	TickInterval time.Duration
	// QueueSize bounds signals waiting for the consumer.
	QueueSize int
	// Location is used to place timestamps in the bedtime window.
	Location *time.Location
	// Screens, when set, supplies the screen state in effect when
	// monitoring starts.
	Screens ScreenHistory
}

// Monitor feeds signals to a Machine from a single consumer goroutine.
type Monitor struct {
	machine  *Machine
	settings settings.Provider
	windows  WindowResolver
	clock    Clock
	cfg      MonitorConfig
	logger   zerolog.Logger
	queue    chan Signal

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the consumer goroutine.
	pending    signalHeap
	seq        uint64
	watermark  int64
	lastScreen *usage.ScreenEvent
	lastPulse  *int64
}

// NewMonitor creates a stopped monitor.
func NewMonitor(machine *Machine, provider settings.Provider, windows WindowResolver, clock Clock, cfg MonitorConfig, logger zerolog.Logger) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Monitor{
		machine:  machine,
		settings: provider,
		windows:  windows,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With().Str("component", "presence-monitor").Logger(),
		queue:    make(chan Signal, cfg.QueueSize),
	}
}

// Machine returns the underlying state machine.
func (m *Monitor) Machine() *Machine {
	return m.machine
}

// Running reports whether monitoring is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Start begins monitoring: the machine leaves UNKNOWN and the consumer
// goroutine starts. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	if _, err := m.machine.Start(ctx, m.now()); err != nil {
		return fmt.Errorf("failed to start presence monitoring: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.done)

	m.logger.Info().
		Dur("reorder_window", m.cfg.ReorderWindow).
		Dur("tick_interval", m.cfg.TickInterval).
		Msg("Presence monitoring started")
	return nil
}

// Stop ends monitoring, discards pending signals and forces UNKNOWN.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if _, err := m.machine.Stop(ctx, m.now()); err != nil {
		return fmt.Errorf("failed to stop presence monitoring: %w", err)
	}
	m.logger.Info().Msg("Presence monitoring stopped")
	return nil
}

// Submit queues a signal without blocking.
func (m *Monitor) Submit(sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	if !m.Running() {
		metrics.SignalsDropped.WithLabelValues("not_running").Inc()
		return ErrNotRunning
	}

	select {
	case m.queue <- sig:
		metrics.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
		return nil
	default:
		metrics.SignalsDropped.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.reset()
	m.seedScreen(ctx)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		ticked := false
		select {
		case <-ctx.Done():
		case sig := <-m.queue:
			m.accept(sig)
		case <-ticker.C:
			ticked = true
		case <-timerC:
		}

		// select picks at random among ready cases, so a stop can race a
		// queued signal.
		if ctx.Err() != nil {
			m.discard()
			return
		}

		m.flush(ctx)
		if ticked {
			m.tick(ctx)
		}

		// Wake up when the earliest held signal leaves the reorder window.
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if m.pending.Len() > 0 {
			wait := time.Duration(m.pending[0].sig.Timestamp-m.cutoff()) * time.Millisecond
			timer = time.NewTimer(max(wait, time.Millisecond))
			timerC = timer.C
		}
	}
}

func (m *Monitor) reset() {
	m.pending = m.pending[:0]
	m.watermark = 0
	m.lastScreen = nil
	m.lastPulse = nil
}

// seedScreen loads the last stored screen event so a restored state sees the
// screen as it was left.
func (m *Monitor) seedScreen(ctx context.Context) {
	if m.cfg.Screens == nil {
		return
	}
	ev, err := m.cfg.Screens.LatestAtOrBefore(ctx, m.now())
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load last screen event")
		return
	}
	if ev == nil {
		return
	}
	seeded := *ev
	m.lastScreen = &seeded
	m.machine.SeedScreen(seeded)
	m.logger.Debug().
		Str("screen", string(seeded.Type)).
		Int64("timestamp", seeded.Timestamp).
		Msg("Seeded last screen event")
}

// discard drops everything still waiting; the machine is about to be stopped.
func (m *Monitor) discard() {
	n := m.pending.Len()
	for {
		select {
		case <-m.queue:
			n++
			continue
		default:
		}
		break
	}
	m.pending = m.pending[:0]
	if n > 0 {
		metrics.SignalsDropped.WithLabelValues("stopped").Add(float64(n))
		m.logger.Debug().Int("count", n).Msg("Discarded pending signals on stop")
	}
}

// accept holds a signal in the reorder heap, dropping it when it is older
// than what has already been evaluated.
func (m *Monitor) accept(sig Signal) {
	if sig.Timestamp < m.watermark {
		metrics.SignalsDropped.WithLabelValues("late").Inc()
		m.logger.Warn().
			Str("kind", string(sig.Kind)).
			Int64("timestamp", sig.Timestamp).
			Int64("watermark", m.watermark).
			Msg("Dropping late signal")
		return
	}
	m.seq++
	heap.Push(&m.pending, heldSignal{sig: sig, seq: m.seq})
}

// flush evaluates every held signal that has left the reorder window, in
// timestamp order.
func (m *Monitor) flush(ctx context.Context) {
	cutoff := m.cutoff()
	for m.pending.Len() > 0 && m.pending[0].sig.Timestamp <= cutoff {
		held := heap.Pop(&m.pending).(heldSignal)
		m.evaluate(ctx, held.sig)
	}
}

// tick evaluates the passage of time at the reorder cutoff.
func (m *Monitor) tick(ctx context.Context) {
	ts := m.cutoff()
	if ts < m.watermark {
		return
	}
	m.evaluate(ctx, Signal{Kind: SignalTick, Timestamp: ts})
}

func (m *Monitor) cutoff() int64 {
	return m.now() - m.cfg.ReorderWindow.Milliseconds()
}

func (m *Monitor) now() int64 {
	return m.clock.Now().UnixMilli()
}

func (m *Monitor) evaluate(ctx context.Context, sig Signal) {
	switch sig.Kind {
	case SignalScreen:
		ev := usage.ScreenEvent{Timestamp: sig.Timestamp, Type: sig.Screen}
		m.lastScreen = &ev
	case SignalSleepConfirmed:
		ts := sig.Timestamp
		m.lastPulse = &ts
	}
	m.watermark = sig.Timestamp

	in, err := m.inputs(ctx, sig.Timestamp)
	if err != nil {
		m.logger.Error().Err(err).Str("kind", string(sig.Kind)).Msg("Failed to gather presence inputs")
		return
	}
	if _, err := m.machine.Evaluate(ctx, in); err != nil {
		m.logger.Error().Err(err).Str("kind", string(sig.Kind)).Msg("Presence evaluation failed")
	}
}

// inputs re-reads settings and the bedtime window for this evaluation.
func (m *Monitor) inputs(ctx context.Context, now int64) (Inputs, error) {
	snap, err := m.settings.Snapshot(ctx)
	if err != nil {
		return Inputs{}, err
	}

	sel, err := snap.Selection()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Ignoring invalid manual bedtime window")
	}

	inWindow := false
	if snap.BedtimeTrackingEnabled {
		window, err := m.windows.Resolve(ctx, sel)
		if err != nil {
			return Inputs{}, err
		}
		inWindow = window.Contains(time.UnixMilli(now).In(m.cfg.Location))
	}

	return Inputs{
		Now:                 now,
		Screen:              m.lastScreen,
		SleepConfirmed:      m.lastPulse,
		TrackingEnabled:     snap.BedtimeTrackingEnabled,
		InWindow:            inWindow,
		InactivityThreshold: snap.InactivityThreshold,
	}, nil
}

type heldSignal struct {
	sig Signal
	seq uint64
}

// signalHeap orders signals by timestamp, then arrival.
type signalHeap []heldSignal

func (h signalHeap) Len() int { return len(h) }

func (h signalHeap) Less(i, j int) bool {
	if h[i].sig.Timestamp != h[j].sig.Timestamp {
		return h[i].sig.Timestamp < h[j].sig.Timestamp
	}
	return h[i].seq < h[j].seq
}

func (h signalHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *signalHeap) Push(x any) { *h = append(*h, x.(heldSignal)) }

func (h *signalHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
