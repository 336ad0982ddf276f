package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/rs/zerolog"
)

// Reminder is a planned fire time handed to a Dispatcher.
type Reminder struct {
	FireAt     int64 `json:"fire_at"`
	LastFire   int64 `json:"last_fire"`
	ComputedAt int64 `json:"computed_at"`
}

// Dispatcher schedules the actual wake-up for a reminder.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, r Reminder) error
}

// Scheduler keeps one reminder planned at all times. Settings are re-read at
// least every recheck interval so toggles and snoozes take effect.
type Scheduler struct {
	planner    *Planner
	dispatcher Dispatcher
	clock      presence.Clock
	recheck    time.Duration
	logger     zerolog.Logger
	stopChan   chan struct{}
	done       chan struct{}

	lastFire   int64
	dispatched int64
}

// NewScheduler creates a new reminder scheduler
func NewScheduler(planner *Planner, dispatcher Dispatcher, clock presence.Clock, recheck time.Duration, logger zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = presence.RealClock{}
	}
	if recheck <= 0 {
		recheck = time.Minute
	}
	return &Scheduler{
		planner:    planner,
		dispatcher: dispatcher,
		clock:      clock,
		recheck:    recheck,
		logger:     logger.With().Str("component", "reminder-scheduler").Logger(),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins the reminder scheduler
func (s *Scheduler) Start() {
	s.lastFire = s.clock.Now().UnixMilli()
	go s.run()
	s.logger.Info().
		Str("dispatcher", s.dispatcher.Name()).
		Dur("recheck", s.recheck).
		Msg("Reminder scheduler started")
}

// Stop stops the reminder scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info().Msg("Reminder scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	for {
		wait := s.step(ctx)

		select {
		case <-time.After(wait):
		case <-s.stopChan:
			return
		}
	}
}

// step plans and dispatches the next reminder and returns how long to sleep.
func (s *Scheduler) step(ctx context.Context) time.Duration {
	now := s.clock.Now().UnixMilli()

	due, next, err := s.planner.Due(ctx, s.lastFire, now)
	switch {
	case errors.Is(err, ErrDisabled):
		s.logger.Debug().Msg("Reminders disabled")
		return s.recheck
	case err != nil:
		s.logger.Error().Err(err).Msg("Failed to plan next reminder")
		return s.recheck
	}

	if due {
		s.logger.Info().Int64("fire_at", next).Msg("Reminder fired")
		s.lastFire = next
		return 0
	}

	if next != s.dispatched {
		r := Reminder{FireAt: next, LastFire: s.lastFire, ComputedAt: now}
		if err := s.dispatcher.Dispatch(ctx, r); err != nil {
			s.logger.Error().Err(err).
				Str("dispatcher", s.dispatcher.Name()).
				Int64("fire_at", next).
				Msg("Failed to dispatch reminder")
			return s.recheck
		}
		s.dispatched = next
		metrics.RemindersDispatched.WithLabelValues(s.dispatcher.Name()).Inc()
		s.logger.Info().
			Time("fire_at", time.UnixMilli(next)).
			Msg("Scheduled next reminder")
	}

	return min(time.Duration(next-now)*time.Millisecond, s.recheck)
}
