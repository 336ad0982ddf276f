package usage

import (
	"sort"

	"github.com/goodtune/restwell/internal/timerange"
)

// period is an unclipped screen-on interval as reconstructed from the stream.
type period struct {
	start, end    int64
	implicitStart bool
	implicitEnd   bool
}

// RepairScreenEvents sorts the stream by timestamp and drops consecutive
// events of the same type. The input slice is not modified.
func RepairScreenEvents(events []ScreenEvent) []ScreenEvent {
	sorted := make([]ScreenEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	out := sorted[:0]
	for _, ev := range sorted {
		if len(out) > 0 && out[len(out)-1].Type == ev.Type {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// screenPeriods pairs ON->OFF transitions. A leading OFF gets an implicit ON
// at view.Start and a trailing ON gets an implicit OFF at view.End.
func screenPeriods(events []ScreenEvent, view timerange.Range) []period {
	repaired := RepairScreenEvents(events)

	var (
		out  []period
		open *period
	)
	for i, ev := range repaired {
		switch ev.Type {
		case ScreenOn:
			open = &period{start: ev.Timestamp}
		case ScreenOff:
			if open != nil {
				open.end = ev.Timestamp
				out = append(out, *open)
				open = nil
			} else if i == 0 {
				out = append(out, period{start: view.Start, end: ev.Timestamp, implicitStart: true})
			}
		}
	}
	if open != nil {
		open.end = max(view.End, open.start)
		open.implicitEnd = true
		out = append(out, *open)
	}
	return out
}

// clipPeriods clips reconstructed periods to the view and drops empty ones.
func clipPeriods(periods []period, view timerange.Range) []timerange.Range {
	out := make([]timerange.Range, 0, len(periods))
	for _, p := range periods {
		if r, ok := (timerange.Range{Start: p.start, End: p.end}).Clip(view); ok {
			out = append(out, r)
		}
	}
	return out
}

// pickups counts periods whose start lies strictly inside the view. Periods
// carried in from before the view, including synthesized starts at
// view.Start, are not pickups.
func pickups(periods []period, view timerange.Range) int {
	n := 0
	for _, p := range periods {
		if p.start > view.Start && p.start < view.End {
			n++
		}
	}
	return n
}

// normalizeSessions sorts sessions by start and truncates an earlier session
// of a package at the start of a later, overlapping session of the same
// package. Open sessions are closed at now. Empty sessions are dropped.
func normalizeSessions(events []AppUsageEvent, now int64) []appSpan {
	spans := make([]appSpan, 0, len(events))
	for _, ev := range events {
		spans = append(spans, appSpan{pkg: ev.PackageName, Range: ev.span(now)})
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].pkg < spans[j].pkg
	})

	last := make(map[string]int, len(spans))
	for i := range spans {
		if prev, ok := last[spans[i].pkg]; ok && spans[prev].End > spans[i].Start {
			spans[prev].End = spans[i].Start
		}
		last[spans[i].pkg] = i
	}

	out := spans[:0]
	for _, s := range spans {
		if s.End > s.Start {
			out = append(out, s)
		}
	}
	return out
}

type appSpan struct {
	timerange.Range
	pkg string
}
