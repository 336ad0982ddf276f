// Package retention prunes old events once a day.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/rs/zerolog"
)

// Result counts the records removed by one sweep.
type Result struct {
	Cutoff      int64 `json:"cutoff"`
	Presence    int   `json:"presence"`
	Screen      int   `json:"screen"`
	AppSessions int   `json:"app_sessions"`
}

// Sweeper deletes events older than the retention period at a fixed time
// of day.
type Sweeper struct {
	store     storage.Store
	retention time.Duration
	sweepTime time.Time // Time of day to sweep (only hour and minute are used)
	clock     presence.Clock
	logger    zerolog.Logger
	stopChan  chan struct{}
	done      chan struct{}
}

// NewSweeper creates a sweeper keeping retentionDays of history.
func NewSweeper(store storage.Store, retentionDays int, sweepTime string, logger zerolog.Logger) (*Sweeper, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	parsedTime, err := time.Parse("15:04", sweepTime)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep time %q: %w", sweepTime, err)
	}

	return &Sweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		sweepTime: parsedTime,
		clock:     presence.RealClock{},
		logger:    logger.With().Str("component", "retention").Logger(),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// SetClock replaces the clock (for testing)
func (s *Sweeper) SetClock(clock presence.Clock) {
	s.clock = clock
}

// Start begins the sweeper
func (s *Sweeper) Start() {
	go s.run()
	s.logger.Info().
		Str("sweep_time", s.sweepTime.Format("15:04")).
		Dur("retention", s.retention).
		Msg("Retention sweeper started")
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info().Msg("Retention sweeper stopped")
}

// run is the main sweeper loop
func (s *Sweeper) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		next := s.nextSweep()
		wait := next.Sub(s.clock.Now())

		s.logger.Debug().
			Time("next_sweep", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next retention sweep")

		select {
		case <-time.After(wait):
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Retention sweep failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

// nextSweep calculates the next sweep time
func (s *Sweeper) nextSweep() time.Time {
	now := s.clock.Now()

	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.sweepTime.Hour(), s.sweepTime.Minute(), 0, 0,
		now.Location(),
	)

	if now.Before(today) {
		return today
	}
	return today.AddDate(0, 0, 1)
}

// Sweep deletes every event older than the retention period. The presence
// event preceding the cutoff is kept so segments starting at the cutoff
// still know the carried state.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	cutoff := s.clock.Now().Add(-s.retention).UnixMilli()
	res := &Result{Cutoff: cutoff}

	presenceCutoff := cutoff
	if carried, err := s.store.Presence().LatestAtOrBefore(ctx, cutoff); err == nil {
		presenceCutoff = carried.Timestamp
	}
	n, err := s.store.Presence().DeleteBefore(ctx, presenceCutoff)
	if err != nil {
		return nil, fmt.Errorf("prune presence events: %w", err)
	}
	res.Presence = n
	metrics.EventsPruned.WithLabelValues("presence").Add(float64(n))

	screenCutoff := cutoff
	if carried, err := s.store.Screen().LatestAtOrBefore(ctx, cutoff); err == nil {
		screenCutoff = carried.Timestamp
	}
	n, err = s.store.Screen().DeleteBefore(ctx, screenCutoff)
	if err != nil {
		return nil, fmt.Errorf("prune screen events: %w", err)
	}
	res.Screen = n
	metrics.EventsPruned.WithLabelValues("screen").Add(float64(n))

	n, err = s.store.AppUsage().DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("prune app sessions: %w", err)
	}
	res.AppSessions = n
	metrics.EventsPruned.WithLabelValues("app_sessions").Add(float64(n))

	s.logger.Info().
		Time("cutoff", time.UnixMilli(cutoff)).
		Int("presence_deleted", res.Presence).
		Int("screen_deleted", res.Screen).
		Int("app_sessions_deleted", res.AppSessions).
		Msg("Retention sweep complete")

	return res, nil
}
