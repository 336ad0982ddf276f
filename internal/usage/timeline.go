// Package usage reconstructs screen-on timelines and binned usage statistics
// from raw screen and app-session event streams.
package usage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goodtune/restwell/internal/timerange"
)

// ErrInvalidBinSize is returned when a statistics bin size is not positive.
var ErrInvalidBinSize = errors.New("invalid bin size: must be positive")

// Query is the input shared by timeline and statistics reconstruction.
// Screen should include the latest event at or before Start so that a period
// carried into the range is visible. Now closes open app sessions and
// defaults to End.
type Query struct {
	Screen []ScreenEvent
	Apps   []AppUsageEvent
	Start  int64
	End    int64
	Now    int64
}

func (q Query) now() int64 {
	if q.Now == 0 {
		return q.End
	}
	return q.Now
}

// ColorResolver maps a package name to a display color.
type ColorResolver interface {
	Color(packageName string) (string, bool)
}

// Builder reconstructs timelines. The zero value has no color mapping.
type Builder struct {
	colors ColorResolver
}

// NewBuilder creates a builder that resolves app colors through colors, which
// may be nil.
func NewBuilder(colors ColorResolver) *Builder {
	return &Builder{colors: colors}
}

// BuildTimeline is Build with no color mapping.
func BuildTimeline(screen []ScreenEvent, apps []AppUsageEvent, viewStart, viewEnd int64) (*TimelineModel, error) {
	return (&Builder{}).Build(Query{Screen: screen, Apps: apps, Start: viewStart, End: viewEnd})
}

// Build reconstructs the screen-on periods in [q.Start, q.End) and the app
// segments inside each of them.
func (b *Builder) Build(q Query) (*TimelineModel, error) {
	view, err := timerange.New(q.Start, q.End)
	if err != nil {
		return nil, err
	}

	raw := screenPeriods(q.Screen, view)
	sessions := normalizeSessions(q.Apps, q.now())

	model := &TimelineModel{
		ViewStart:   view.Start,
		ViewEnd:     view.End,
		Periods:     make([]ScreenOnPeriod, 0, len(raw)),
		PickupCount: pickups(raw, view),
	}

	for _, p := range raw {
		bounds, ok := (timerange.Range{Start: p.start, End: p.end}).Clip(view)
		if !ok {
			continue
		}
		period := ScreenOnPeriod{
			Start:    bounds.Start,
			End:      bounds.End,
			Apps:     b.segments(sessions, bounds),
			Implicit: p.implicitStart || p.implicitEnd,
		}
		model.TotalScreenOnTime += period.Duration()
		model.Periods = append(model.Periods, period)
	}

	return model, nil
}

func (b *Builder) segments(sessions []appSpan, bounds timerange.Range) []AppSegment {
	out := make([]AppSegment, 0)
	for _, s := range sessions {
		if s.Start >= bounds.End {
			break
		}
		clipped, ok := s.Range.Clip(bounds)
		if !ok {
			continue
		}
		out = append(out, AppSegment{
			PackageName: s.pkg,
			Start:       clipped.Start,
			End:         clipped.End,
			Color:       b.color(s.pkg),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}

func (b *Builder) color(pkg string) *string {
	if b == nil || b.colors == nil {
		return nil
	}
	c, ok := b.colors.Color(pkg)
	if !ok {
		return nil
	}
	return &c
}

// String summarizes the model for logs.
func (m *TimelineModel) String() string {
	return fmt.Sprintf("timeline[%d,%d) periods=%d pickups=%d screen_on=%dms",
		m.ViewStart, m.ViewEnd, len(m.Periods), m.PickupCount, m.TotalScreenOnTime)
}
