package usage

import (
	"fmt"

	"github.com/goodtune/restwell/internal/timerange"
)

// MaxBins caps the number of bins a single aggregation may produce.
const MaxBins = 100_000

// Aggregate partitions [q.Start, q.End) into consecutive bins of binSize
// millis and rolls screen-on time, per-app time and per-app opens into each
// bin. The last bin may be shorter. Bins with no activity are kept.
func Aggregate(q Query, binSize int64) (*Statistics, error) {
	if binSize <= 0 {
		return nil, ErrInvalidBinSize
	}
	rng, err := timerange.New(q.Start, q.End)
	if err != nil {
		return nil, err
	}
	if n := rng.Duration() / binSize; n >= MaxBins {
		return nil, fmt.Errorf("%w: range needs more than %d bins", ErrInvalidBinSize, MaxBins)
	}

	raw := screenPeriods(q.Screen, rng)
	periods := clipPeriods(raw, rng)
	sessions := normalizeSessions(q.Apps, q.now())

	parts := rng.Split(binSize)
	stats := &Statistics{
		RangeStart:       rng.Start,
		RangeEnd:         rng.End,
		BinSize:          binSize,
		Bins:             make([]Bin, len(parts)),
		PickupCount:      pickups(raw, rng),
		TotalUsagePerApp: make(map[string]int64),
		TotalOpensPerApp: make(map[string]int),
	}

	for i, part := range parts {
		bin := Bin{
			Start:    part.Start,
			End:      part.End,
			AppUsage: make(map[string]int64),
			AppOpens: make(map[string]int),
		}
		for _, p := range periods {
			bin.TotalScreenOnTime += p.Overlap(part)
		}
		for _, s := range sessions {
			if ms := s.Overlap(part); ms > 0 {
				bin.AppUsage[s.pkg] += ms
				stats.TotalUsagePerApp[s.pkg] += ms
			}
			if part.Contains(s.Start) {
				bin.AppOpens[s.pkg]++
				stats.TotalOpensPerApp[s.pkg]++
			}
		}
		stats.TotalScreenOnTime += bin.TotalScreenOnTime
		stats.Bins[i] = bin
	}

	return stats, nil
}

// NonEmpty returns the bins that recorded any screen or app activity.
func (s *Statistics) NonEmpty() []Bin {
	out := make([]Bin, 0, len(s.Bins))
	for _, b := range s.Bins {
		if b.TotalScreenOnTime > 0 || len(b.AppUsage) > 0 || len(b.AppOpens) > 0 {
			out = append(out, b)
		}
	}
	return out
}
