package usage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goodtune/restwell/internal/timerange"
)

// ScreenType is the kind of a screen transition.
type ScreenType string

const (
	ScreenOn  ScreenType = "ON"
	ScreenOff ScreenType = "OFF"
)

// UnmarshalJSON implements json.Unmarshaler to normalize the type to uppercase.
func (s *ScreenType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := ScreenType(strings.ToUpper(raw))
	switch normalized {
	case ScreenOn, ScreenOff:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid screen event type: %s (must be ON or OFF)", raw)
	}
}

// ScreenEvent is an observed screen transition. Timestamps are epoch millis.
type ScreenEvent struct {
	Timestamp int64      `json:"timestamp"`
	Type      ScreenType `json:"type"`
}

// AppUsageEvent is a foreground session of one package. A nil End means the
// session is still open.
type AppUsageEvent struct {
	PackageName string `json:"package_name"`
	Start       int64  `json:"start"`
	End         *int64 `json:"end,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (e AppUsageEvent) Open() bool {
	return e.End == nil
}

// span returns the session interval, closing open sessions at now.
func (e AppUsageEvent) span(now int64) timerange.Range {
	end := now
	if e.End != nil {
		end = *e.End
	}
	return timerange.Range{Start: e.Start, End: end}
}

// AppSegment is an app session clipped to its parent screen-on period.
// Color is nil when the package has no color mapping.
type AppSegment struct {
	PackageName string  `json:"package_name"`
	Start       int64   `json:"start"`
	End         int64   `json:"end"`
	Color       *string `json:"color"`
}

// Duration returns the segment length in millis.
func (s AppSegment) Duration() int64 { return s.End - s.Start }

// ScreenOnPeriod is one clipped screen-on interval and the app segments inside it.
type ScreenOnPeriod struct {
	Start    int64        `json:"start"`
	End      int64        `json:"end"`
	Apps     []AppSegment `json:"apps"`
	Implicit bool         `json:"implicit,omitempty"` // start or end was synthesized
}

// Duration returns the period length in millis.
func (p ScreenOnPeriod) Duration() int64 { return p.End - p.Start }

// TimelineModel is the nested interval structure for a view range.
type TimelineModel struct {
	ViewStart         int64            `json:"view_start"`
	ViewEnd           int64            `json:"view_end"`
	Periods           []ScreenOnPeriod `json:"periods"`
	PickupCount       int              `json:"pickup_count"`
	TotalScreenOnTime int64            `json:"total_screen_on_ms"`
}

// Bin is one fixed-width slice of a statistics range.
type Bin struct {
	Start             int64            `json:"start"`
	End               int64            `json:"end"`
	TotalScreenOnTime int64            `json:"total_screen_on_ms"`
	AppUsage          map[string]int64 `json:"app_usage_ms"`
	AppOpens          map[string]int   `json:"app_opens"`
}

// Statistics is the binned rollup of a range.
type Statistics struct {
	RangeStart        int64            `json:"range_start"`
	RangeEnd          int64            `json:"range_end"`
	BinSize           int64            `json:"bin_size_ms"`
	Bins              []Bin            `json:"bins"`
	TotalScreenOnTime int64            `json:"total_screen_on_ms"`
	PickupCount       int              `json:"pickup_count"`
	TotalUsagePerApp  map[string]int64 `json:"total_usage_per_app_ms"`
	TotalOpensPerApp  map[string]int   `json:"total_opens_per_app"`
}
