package host

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound means the addressed datablock, bone, node or key no longer exists.
	ErrTargetNotFound = errors.New("target not found")
	// ErrIndexOutOfRange means the component index is past the end of the property.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// TargetError reports a failed write to one locator.
type TargetError struct {
	Locator Locator
	Err     error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target %s: %v", e.Locator, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// Store is the host property store the dispatch cycle writes into.
// Implementations are only ever called from the cycle goroutine.
type Store interface {
	// Set writes one value. A missing target yields a *TargetError.
	Set(loc Locator, value float64) error
	// Refresh signals dependents that a batch of writes has landed.
	Refresh()
	// CurrentFrame returns the frame keyframes are recorded at.
	CurrentFrame() float64
}
