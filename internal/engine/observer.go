package engine

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Transition represents a state change event.
type Transition struct {
	From      State
	To        State
	Timestamp time.Time
	Reason    string
	// Error is non-nil if the transition was caused by an error.
	Error error
}

// Observer receives notifications about state transitions.
// Notifications are delivered synchronously while the server lock is held,
// so implementations must not block or call back into the server.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc is an adapter that allows using ordinary functions as Observers.
type ObserverFunc func(Transition)

// OnTransition implements the Observer interface.
func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}

// MultiObserver combines multiple observers into one.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates a new MultiObserver with the given observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{observers: observers}
}

// Add adds an observer.
func (m *MultiObserver) Add(o Observer) {
	m.observers = append(m.observers, o)
}

// OnTransition notifies all observers of the transition.
func (m *MultiObserver) OnTransition(t Transition) {
	for _, o := range m.observers {
		o.OnTransition(t)
	}
}

// LoggingObserver logs all state transitions.
type LoggingObserver struct{}

// OnTransition logs the transition using zerolog.
func (LoggingObserver) OnTransition(t Transition) {
	ev := log.Info()
	if t.Error != nil {
		ev = log.Error().Err(t.Error)
	}
	ev.Str("from", t.From.String()).
		Str("to", t.To.String()).
		Str("reason", t.Reason).
		Msg("server state changed")
}
