// Package timerange holds the half-open millisecond interval arithmetic shared
// by the presence and usage engines.
package timerange

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned when a query range has End <= Start or is too
// wide to measure in an int64.
var ErrInvalidRange = errors.New("invalid range: end must be after start")

// Range is a half-open interval [Start, End) in epoch milliseconds.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// New validates and returns a Range.
func New(start, end int64) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate reports ErrInvalidRange for empty or inverted ranges and for
// ranges whose width overflows.
func (r Range) Validate() error {
	if r.End <= r.Start {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, r.Start, r.End)
	}
	if r.End-r.Start < 0 {
		return fmt.Errorf("%w: [%d, %d) is too wide", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// Duration returns the width of the range in milliseconds. Invalid ranges
// have no width.
func (r Range) Duration() int64 {
	if r.Validate() != nil {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether ts lies in [Start, End).
func (r Range) Contains(ts int64) bool {
	return ts >= r.Start && ts < r.End
}

// Clip intersects r with bounds. The second return value is false when the
// intersection is empty.
func (r Range) Clip(bounds Range) (Range, bool) {
	start := max(r.Start, bounds.Start)
	end := min(r.End, bounds.End)
	if end <= start {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// Overlap returns the number of milliseconds r and other share.
func (r Range) Overlap(other Range) int64 {
	clipped, ok := r.Clip(other)
	if !ok {
		return 0
	}
	return clipped.Duration()
}

// Split partitions r into consecutive sub-ranges of width size. The last
// sub-range may be shorter. size must be positive and r valid.
func (r Range) Split(size int64) []Range {
	if size <= 0 || r.Validate() != nil {
		return nil
	}
	width := r.End - r.Start
	n := (width-1)/size + 1
	out := make([]Range, 0, n)
	for i := int64(0); i < n; i++ {
		// i*size <= width-1, so start stays inside r.
		start := r.Start + i*size
		end := r.End
		if size < r.End-start {
			end = start + size
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}
