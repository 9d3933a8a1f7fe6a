package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start while the listener is up.
var ErrAlreadyRunning = errors.New("server already running")

// State is the lifecycle state of the server.
type State int

const (
	// StateStopped means no socket is bound and cycles are no-ops.
	StateStopped State = iota

	// StateStarting means the socket is being bound.
	StateStarting

	// StateRunning means the listener is receiving and cycles drain the queue.
	StateRunning

	// StateStopping means the listener is shutting down.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CanTransitionTo returns true if a transition to the target state is valid.
func (s State) CanTransitionTo(target State) bool {
	switch s {
	case StateStopped:
		return target == StateStarting
	case StateStarting:
		// bind succeeded or failed
		return target == StateRunning || target == StateStopped
	case StateRunning:
		return target == StateStopping
	case StateStopping:
		return target == StateStopped
	default:
		return false
	}
}

// TransitionError is returned when an invalid state transition is attempted.
type TransitionError struct {
	From    State
	To      State
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid state transition: %s -> %s: %s", e.From, e.To, e.Message)
	}
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
