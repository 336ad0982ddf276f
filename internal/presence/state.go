// Package presence tracks whether the user is awake, winding down or asleep.
//
// A Machine owns the current state and appends a PresenceEvent for every
// transition. A Monitor feeds it screen, sleep-confirmation and clock signals
// in strict timestamp order from a single goroutine.
package presence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is a presence state.
type State string

const (
	Unknown     State = "UNKNOWN"
	Awake       State = "AWAKE"
	WindingDown State = "WINDING_DOWN"
	Sleeping    State = "SLEEPING"
)

// States lists every presence state.
var States = []State{Unknown, Awake, WindingDown, Sleeping}

// StateNames returns the states as strings, for metric labels.
func StateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = string(s)
	}
	return names
}

// ParseState normalizes s to a State.
func ParseState(s string) (State, error) {
	normalized := State(strings.ToUpper(strings.TrimSpace(s)))
	switch normalized {
	case Unknown, Awake, WindingDown, Sleeping:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid presence state: %s", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler to validate the state.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Event records entry into State at Timestamp (epoch millis). Events are
// append-only.
type Event struct {
	Timestamp int64 `json:"timestamp"`
	State     State `json:"state"`
}

// Segment is a derived interval of constant state. Segments are computed on
// demand and never persisted.
type Segment struct {
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	State    State `json:"state"`
	Duration int64 `json:"duration_ms"`
}
