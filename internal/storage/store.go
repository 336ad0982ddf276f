package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/restwell/internal/presence"
	"github.com/goodtune/restwell/internal/schedule"
	"github.com/goodtune/restwell/internal/settings"
	"github.com/goodtune/restwell/internal/usage"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Presence() PresenceEventStore
	Screen() ScreenEventStore
	AppUsage() AppUsageStore
	Schedules() ScheduleStore
	Settings() settings.Store
}

// PresenceEventStore is the append-only log of presence transitions.
// Appending implements presence.EventLog.
type PresenceEventStore interface {
	Append(ctx context.Context, ev presence.Event) error
	// ListRange returns events with start <= ts < end ordered by timestamp.
	ListRange(ctx context.Context, start, end int64) ([]presence.Event, error)
	// LatestAtOrBefore returns the newest event with ts <= at.
	LatestAtOrBefore(ctx context.Context, at int64) (*presence.Event, error)
	DeleteBefore(ctx context.Context, cutoff int64) (int, error)
}

// ScreenEventStore persists raw screen transitions. Appending the same
// (timestamp, type) pair twice stores it once.
type ScreenEventStore interface {
	Append(ctx context.Context, ev usage.ScreenEvent) error
	ListRange(ctx context.Context, start, end int64) ([]usage.ScreenEvent, error)
	LatestAtOrBefore(ctx context.Context, at int64) (*usage.ScreenEvent, error)
	DeleteBefore(ctx context.Context, cutoff int64) (int, error)
}

// AppSession is a stored app usage session.
type AppSession struct {
	ID string `json:"id"`
	usage.AppUsageEvent
}

// AppUsageStore tracks foreground app sessions. At most one session per
// package is open at a time.
type AppUsageStore interface {
	// OpenSession starts a session for pkg, closing any session already open
	// for it at start.
	OpenSession(ctx context.Context, pkg string, start int64) (*AppSession, error)
	// CloseSession ends the open session for pkg. It returns ErrNotFound when
	// none is open.
	CloseSession(ctx context.Context, pkg string, end int64) (*AppSession, error)
	// ListOverlapping returns sessions intersecting [start, end), including
	// sessions that are still open.
	ListOverlapping(ctx context.Context, start, end int64) ([]usage.AppUsageEvent, error)
	// DeleteEndedBefore removes closed sessions that ended before cutoff.
	DeleteEndedBefore(ctx context.Context, cutoff int64) (int, error)
}

// ScheduleStore manages schedules created through the API.
type ScheduleStore interface {
	Get(ctx context.Context, id string) (*schedule.Schedule, error)
	List(ctx context.Context) ([]schedule.Schedule, error)
	Put(ctx context.Context, s schedule.Schedule) error
	Delete(ctx context.Context, id string) error
}

// ScheduleSource adapts a ScheduleStore to schedule.Source.
func ScheduleSource(store ScheduleStore) schedule.Source {
	return scheduleSource{store: store}
}

type scheduleSource struct {
	store ScheduleStore
}

func (s scheduleSource) Get(ctx context.Context, id string) (*schedule.Schedule, error) {
	sched, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", schedule.ErrScheduleNotFound, id)
	}
	return sched, err
}

// SessionEnd returns the end to record when closing a session started at
// start, never earlier than start.
func SessionEnd(start, end int64) int64 {
	return max(start, end)
}

// Overlaps reports whether a session intersects [start, end). Open sessions
// extend indefinitely.
func Overlaps(ev usage.AppUsageEvent, start, end int64) bool {
	if ev.Start >= end {
		return false
	}
	return ev.End == nil || *ev.End > start
}
