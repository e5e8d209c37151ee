package event

import (
	"errors"
	"fmt"
)

// ErrDispatchTimeout is returned when handlers of one dispatch cycle are still
// running after the bus timeout. They keep running; the cycle stops waiting.
var ErrDispatchTimeout = errors.New("event: dispatch timed out waiting for handlers")

// ErrNoHandlerSlot is reported for a handler that was skipped because every
// handler slot stayed busy for the whole bus timeout.
var ErrNoHandlerSlot = errors.New("event: no free handler slot")

// CallbackError describes a failed handler invocation.
type CallbackError struct {
	EventType string
	Handler   string
	Err       error
}

// Error implements error.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("event: handler %q for %q failed: %v", e.Handler, e.EventType, e.Err)
}

// Unwrap returns the handler's error.
func (e *CallbackError) Unwrap() error {
	return e.Err
}
