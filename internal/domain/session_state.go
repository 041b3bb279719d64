package domain

import "errors"

// SessionState is the lifecycle state of a session record.
type SessionState string

const (
	StateAdding    SessionState = "adding"
	StateActive    SessionState = "active"
	StatePaused    SessionState = "paused"
	StateCompleted SessionState = "completed"
	StateDeleted   SessionState = "deleted"
)

var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[SessionState][]SessionState{
	StateAdding:    {StateActive, StatePaused, StateDeleted},
	StateActive:    {StatePaused, StateCompleted, StateDeleted},
	StatePaused:    {StateActive, StateCompleted, StateDeleted},
	StateCompleted: {StateDeleted},
}

// CanTransition reports whether a transition from one state to another is valid.
func CanTransition(from, to SessionState) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func (s SessionState) Terminal() bool {
	return s == StateDeleted
}
