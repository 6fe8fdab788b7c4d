// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package placement

import (
	"encoding/json"
	"fmt"
)

// State is the placement progress of the geo-referenced object within a session.
type State int

const (
	// AwaitingFix means no position fix has been received yet.
	AwaitingFix State = iota
	// AwaitingSurface means the offset is known and the first surface hit is pending.
	AwaitingSurface
	// Fallback means no usable fix arrived in time, placement uses the surface hit alone.
	Fallback
	// Placed means the object transform has been committed.
	Placed
)

var stateNames = map[State]string{
	AwaitingFix:     "AwaitingFix",
	AwaitingSurface: "AwaitingSurface",
	Fallback:        "Fallback",
	Placed:          "Placed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("failed to decode placement state: %w", err)
	}
	for state, stateName := range stateNames {
		if stateName == name {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown placement state: %q", name)
}

// Terminal reports whether no further transitions are possible from the state.
func (s State) Terminal() bool {
	return s == Placed
}

// canTransition reports whether moving from s to next is allowed. States only move forward,
// Fallback is an alternative branch that can only be entered before a fix is applied.
func (s State) canTransition(next State) bool {
	switch s {
	case AwaitingFix:
		return next == AwaitingSurface || next == Fallback || next == Placed
	case AwaitingSurface, Fallback:
		return next == Placed
	default:
		return false
	}
}
