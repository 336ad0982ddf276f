// Package schedule models recurring weekly time windows and answers
// point-in-time membership queries against them.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minutesPerDay = 24 * 60
	daysPerWeek   = 7
)

// ErrScheduleNotFound is returned when a schedule id cannot be resolved.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrInvalidBlock is returned for a TimeBlock that violates its invariants.
var ErrInvalidBlock = errors.New("invalid time block")

// TimeBlock is a window on a single weekday. EndMinute < StartMinute means the
// block runs past midnight into the following day.
type TimeBlock struct {
	Day         time.Weekday `json:"day"`          // 0=Sunday, 6=Saturday
	StartMinute int          `json:"start_minute"` // 0-1439
	EndMinute   int          `json:"end_minute"`   // 0-1439
}

// Group is a named set of blocks with union semantics.
type Group struct {
	Name   string      `json:"name"`
	Blocks []TimeBlock `json:"blocks"`
}

// Schedule is an immutable, named collection of groups. Edits replace the
// whole value.
type Schedule struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Groups []Group `json:"groups"`
}

// Validate checks the block invariants.
func (b TimeBlock) Validate() error {
	if b.Day < time.Sunday || b.Day > time.Saturday {
		return fmt.Errorf("%w: day %d out of range", ErrInvalidBlock, b.Day)
	}
	if b.StartMinute < 0 || b.StartMinute >= minutesPerDay {
		return fmt.Errorf("%w: start minute %d out of range", ErrInvalidBlock, b.StartMinute)
	}
	if b.EndMinute < 0 || b.EndMinute >= minutesPerDay {
		return fmt.Errorf("%w: end minute %d out of range", ErrInvalidBlock, b.EndMinute)
	}
	if b.StartMinute == b.EndMinute {
		return fmt.Errorf("%w: start equals end (%s)", ErrInvalidBlock, FormatClock(b.StartMinute))
	}
	return nil
}

// Wraps reports whether the block crosses midnight.
func (b TimeBlock) Wraps() bool {
	return b.EndMinute < b.StartMinute
}

// Matches reports whether the (weekday, minute-of-day) point falls in the block.
func (b TimeBlock) Matches(day time.Weekday, minute int) bool {
	if !b.Wraps() {
		return day == b.Day && minute >= b.StartMinute && minute < b.EndMinute
	}
	if day == b.Day && minute >= b.StartMinute {
		return true
	}
	next := time.Weekday((int(b.Day) + 1) % daysPerWeek)
	return day == next && minute < b.EndMinute
}

// Validate checks every block in every group.
func (s *Schedule) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("schedule id is required")
	}
	for _, g := range s.Groups {
		for i, b := range g.Blocks {
			if err := b.Validate(); err != nil {
				return fmt.Errorf("schedule %s group %q block %d: %w", s.ID, g.Name, i, err)
			}
		}
	}
	return nil
}

// IsActiveAt reports whether any block of s contains t, evaluated in t's
// location. A nil schedule is never active.
func IsActiveAt(s *Schedule, t time.Time) bool {
	if s == nil {
		return false
	}
	day := t.Weekday()
	minute := t.Hour()*60 + t.Minute()
	for _, g := range s.Groups {
		for _, b := range g.Blocks {
			if b.Matches(day, minute) {
				return true
			}
		}
	}
	return false
}

// IsActiveAt is the method form of the package-level IsActiveAt.
func (s *Schedule) IsActiveAt(t time.Time) bool {
	return IsActiveAt(s, t)
}

// ParseClock parses "HH:MM" into a minute of day.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("time must be in HH:MM format: %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders a minute of day as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("invalid day: %s", s)
	}
}
