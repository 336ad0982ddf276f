package presence

import (
	"sort"

	"github.com/goodtune/restwell/internal/timerange"
)

// ReconstructSegments projects an event log onto [rangeStart, rangeEnd).
// Each event starts a segment that ends at the next event or rangeEnd. The
// state at rangeStart is taken from the latest event at or before it, or
// UNKNOWN when there is none. Segments of zero length are omitted.
func ReconstructSegments(events []Event, rangeStart, rangeEnd int64) ([]Segment, error) {
	rng, err := timerange.New(rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	state := Unknown
	i := 0
	for ; i < len(sorted) && sorted[i].Timestamp <= rng.Start; i++ {
		state = sorted[i].State
	}

	segments := make([]Segment, 0)
	start := rng.Start
	emit := func(end int64) {
		if end > start {
			segments = append(segments, Segment{
				Start:    start,
				End:      end,
				State:    state,
				Duration: end - start,
			})
		}
	}

	for ; i < len(sorted) && sorted[i].Timestamp < rng.End; i++ {
		ev := sorted[i]
		emit(ev.Timestamp)
		start = ev.Timestamp
		state = ev.State
	}
	emit(rng.End)

	return segments, nil
}

// TimeIn sums segment durations per state.
func TimeIn(segments []Segment) map[State]int64 {
	out := make(map[State]int64, len(States))
	for _, s := range segments {
		out[s.State] += s.Duration
	}
	return out
}
