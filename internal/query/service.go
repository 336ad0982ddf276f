// Package query answers read-side questions by loading stored events and
// running them through the presence, usage, schedule and reminder engines.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/restwell/internal/metrics"
	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/reminder"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/storage"
	"github.com/goodtune/restwell/internal/timerange"
	"github.com/goodtune/restwell/internal/usage"
	"github.com/rs/zerolog"
)

// ErrReadOnlySchedule is returned when changing a schedule that is defined in
// the schedule directory.
var ErrReadOnlySchedule = errors.New("schedule is defined in a file and cannot be changed")

// ScheduleInfo is a schedule together with where it was loaded from.
type ScheduleInfo struct {
	schedule.Schedule
	Source string `json:"source"` // "file" or "store"
}

// Service is the read-side facade used by the API and CLI.
type Service struct {
	store    storage.Store
	files    *schedule.Registry
	source   schedule.Source
	resolver *schedule.Resolver
	builder  *usage.Builder
	settings settings.Provider
	planner  *reminder.Planner
	loc      *time.Location
	logger   zerolog.Logger
}

// Config holds the collaborators of a Service. Files may be nil.
type Config struct {
	Store    storage.Store
	Files    *schedule.Registry
	Builder  *usage.Builder
	Settings settings.Provider
	Location *time.Location
	// LookAhead bounds the reminder search; zero uses the default.
	LookAhead time.Duration
}

// NewService creates a query service. File schedules shadow stored ones with
// the same id.
func NewService(cfg Config, logger zerolog.Logger) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	builder := cfg.Builder
	if builder == nil {
		builder = usage.NewBuilder(nil)
	}

	var chain schedule.Chain
	if cfg.Files != nil {
		chain = append(chain, cfg.Files)
	}
	chain = append(chain, storage.ScheduleSource(cfg.Store.Schedules()))
	resolver := schedule.NewResolver(chain, logger)

	return &Service{
		store:    cfg.Store,
		files:    cfg.Files,
		source:   chain,
		resolver: resolver,
		builder:  builder,
		settings: cfg.Settings,
		planner:  reminder.NewPlanner(cfg.Settings, resolver, loc, cfg.LookAhead, logger),
		loc:      loc,
		logger:   logger.With().Str("component", "query").Logger(),
	}
}

// Resolver returns the window resolver shared with the presence monitor.
func (s *Service) Resolver() *schedule.Resolver { return s.resolver }

// Planner returns the reminder planner.
func (s *Service) Planner() *reminder.Planner { return s.planner }

// Location returns the timezone used for window membership.
func (s *Service) Location() *time.Location { return s.loc }

// Segments reconstructs presence segments covering [start, end).
func (s *Service) Segments(ctx context.Context, start, end int64) ([]presence.Segment, error) {
	defer metrics.TimeQuery("segments")()

	if _, err := timerange.New(start, end); err != nil {
		return nil, err
	}

	events := make([]presence.Event, 0)
	carried, err := s.store.Presence().LatestAtOrBefore(ctx, start-1)
	switch {
	case err == nil:
		events = append(events, *carried)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to load carried presence state: %w", err)
	}

	inRange, err := s.store.Presence().ListRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load presence events: %w", err)
	}
	events = append(events, inRange...)

	return presence.ReconstructSegments(events, start, end)
}

// usageQuery loads the screen and app events needed for [start, end).
func (s *Service) usageQuery(ctx context.Context, start, end, now int64) (usage.Query, error) {
	q := usage.Query{Start: start, End: end, Now: now}
	if _, err := timerange.New(start, end); err != nil {
		return q, err
	}

	q.Screen = make([]usage.ScreenEvent, 0)
	carried, err := s.store.Screen().LatestAtOrBefore(ctx, start-1)
	switch {
	case err == nil:
		q.Screen = append(q.Screen, *carried)
	case !errors.Is(err, storage.ErrNotFound):
		return q, fmt.Errorf("failed to load carried screen state: %w", err)
	}

	inRange, err := s.store.Screen().ListRange(ctx, start, end)
	if err != nil {
		return q, fmt.Errorf("failed to load screen events: %w", err)
	}
	q.Screen = append(q.Screen, inRange...)

	q.Apps, err = s.store.AppUsage().ListOverlapping(ctx, start, end)
	if err != nil {
		return q, fmt.Errorf("failed to load app sessions: %w", err)
	}
	return q, nil
}

// Timeline reconstructs the screen-on timeline of [start, end). Open app
// sessions are closed at now, which defaults to end.
func (s *Service) Timeline(ctx context.Context, start, end, now int64) (*usage.TimelineModel, error) {
	defer metrics.TimeQuery("timeline")()

	q, err := s.usageQuery(ctx, start, end, now)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(q)
}

// Statistics aggregates usage in [start, end). A non-positive binSize uses
// the configured bin size.
func (s *Service) Statistics(ctx context.Context, start, end, binSize, now int64) (*usage.Statistics, error) {
	defer metrics.TimeQuery("statistics")()

	if binSize <= 0 {
		snap, err := s.settings.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		binSize = snap.BinSize.Milliseconds()
	}

	q, err := s.usageQuery(ctx, start, end, now)
	if err != nil {
		return nil, err
	}
	return usage.Aggregate(q, binSize)
}

// NextReminder returns the next reminder fire time after lastFire.
func (s *Service) NextReminder(ctx context.Context, lastFire int64) (int64, error) {
	defer metrics.TimeQuery("next_reminder")()
	return s.planner.Next(ctx, lastFire)
}

// ScheduleActive reports whether schedule id covers at, evaluated in the
// service timezone.
func (s *Service) ScheduleActive(ctx context.Context, id string, at time.Time) (bool, error) {
	defer metrics.TimeQuery("schedule_active")()

	sched, err := s.source.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return sched.IsActiveAt(at.In(s.loc)), nil
}

// Window resolves the bedtime window from the current settings.
func (s *Service) Window(ctx context.Context) (schedule.Window, error) {
	snap, err := s.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sel, err := snap.Selection()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring invalid manual bedtime window")
	}
	return s.resolver.Resolve(ctx, sel)
}

// InWindow reports whether at falls in the current bedtime window.
func (s *Service) InWindow(ctx context.Context, at time.Time) (bool, error) {
	window, err := s.Window(ctx)
	if err != nil {
		return false, err
	}
	return window.Contains(at.In(s.loc)), nil
}

// Schedules lists file and stored schedules sorted by id. File schedules
// shadow stored ones with the same id.
func (s *Service) Schedules(ctx context.Context) ([]ScheduleInfo, error) {
	seen := make(map[string]bool)
	out := make([]ScheduleInfo, 0)

	if s.files != nil {
		for _, sched := range s.files.List() {
			seen[sched.ID] = true
			out = append(out, ScheduleInfo{Schedule: *sched, Source: "file"})
		}
	}

	stored, err := s.store.Schedules().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	for _, sched := range stored {
		if seen[sched.ID] {
			continue
		}
		out = append(out, ScheduleInfo{Schedule: sched, Source: "store"})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Service) fileSchedule(ctx context.Context, id string) bool {
	if s.files == nil {
		return false
	}
	_, err := s.files.Get(ctx, id)
	return err == nil
}

// PutSchedule stores a schedule.
func (s *Service) PutSchedule(ctx context.Context, sched schedule.Schedule) error {
	if s.fileSchedule(ctx, sched.ID) {
		return fmt.Errorf("%w: %s", ErrReadOnlySchedule, sched.ID)
	}
	return s.store.Schedules().Put(ctx, sched)
}

// DeleteSchedule removes a stored schedule.
func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	if s.fileSchedule(ctx, id) {
		return fmt.Errorf("%w: %s", ErrReadOnlySchedule, id)
	}
	err := s.store.Schedules().Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", schedule.ErrScheduleNotFound, id)
	}
	return err
}
