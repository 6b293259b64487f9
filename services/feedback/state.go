// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

// RunState represents a state in the feedback loop state machine.
type RunState string

const (
	// StateRunning is the state while iterations are being executed.
	StateRunning RunState = "RUNNING"

	// StateSucceeded means the last verification passed at or above the
	// target confidence.
	StateSucceeded RunState = "SUCCEEDED"

	// StateExhausted means the iteration budget was spent without success.
	StateExhausted RunState = "EXHAUSTED"

	// StateFailed means a collaborator failed and the run was aborted.
	StateFailed RunState = "FAILED"
)

// String returns the string representation of the state.
func (s RunState) String() string {
	return string(s)
}

// IsTerminal returns true for SUCCEEDED, EXHAUSTED and FAILED.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StateExhausted, StateFailed:
		return true
	default:
		return false
	}
}

// AllStates returns every state in declaration order.
func AllStates() []RunState {
	return []RunState{StateRunning, StateSucceeded, StateExhausted, StateFailed}
}

// validTransitions lists the allowed transitions out of each state.
// Terminal states have no outgoing edges.
var validTransitions = map[RunState][]RunState{
	StateRunning: {StateRunning, StateSucceeded, StateExhausted, StateFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to RunState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the summary to the given state.
func (s *RunSummary) transition(to RunState) error {
	if !CanTransition(s.state, to) {
		return &TransitionError{From: s.state, To: to}
	}
	s.state = to
	return nil
}
