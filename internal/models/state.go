package models

import "time"

// CycleState is the phase of the backup cycle.
type CycleState int

// Cycle states.
const (
	StateUnknown CycleState = iota
	StateRunning
	StateCleaningUp
	StateWaiting
)

// CycleStates lists every state, in declaration order.
var CycleStates = []CycleState{StateUnknown, StateRunning, StateCleaningUp, StateWaiting}

func (s CycleState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCleaningUp:
		return "cleaning_up"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// StatusReport is the point-in-time view served on the status endpoint.
type StatusReport struct {
	Name       string           `json:"name"`
	State      string           `json:"state"`
	CycleID    string           `json:"cycleId,omitempty"`
	NextRun    *time.Time       `json:"nextRun,omitempty"`
	Metrics    MetricsSnapshot  `json:"metrics"`
	Collection CollectionStatus `json:"collection"`
}
