package hass

import (
	"errors"
	"fmt"
)

// Sentinel errors for the hub connection. Use errors.Is to check for them.
var (
	// ErrConnectionRefused is returned when the websocket cannot be opened.
	ErrConnectionRefused = errors.New("hass: connection refused")

	// ErrAuthRejected is returned when the hub answers auth_invalid.
	ErrAuthRejected = errors.New("hass: authentication rejected")

	// ErrAuthFailed is returned when the handshake breaks off or the hub sends
	// an unexpected frame during authentication.
	ErrAuthFailed = errors.New("hass: authentication failed")

	// ErrDegradedStart marks a boot step that failed without stopping the session.
	ErrDegradedStart = errors.New("hass: degraded start")

	// ErrCorrelation is returned to a waiting requester whose response can no
	// longer arrive.
	ErrCorrelation = errors.New("hass: correlation failed")

	// ErrDuplicateWaiter is returned when a second waiter is registered for an id.
	ErrDuplicateWaiter = errors.New("hass: request id already has a waiter")

	// ErrDecode is returned for frames that cannot be decoded.
	ErrDecode = errors.New("hass: malformed frame")

	// ErrConnectionLost ends the dispatcher when the socket read fails.
	ErrConnectionLost = errors.New("hass: connection lost")

	// ErrNotConnected is returned by Client when no session is running.
	ErrNotConnected = errors.New("hass: not connected")

	// ErrUnknownTag is returned by the codec for unregistered type tags.
	ErrUnknownTag = errors.New("hass: unknown message type")
)

// ResultError is a result frame with success=false.
type ResultError struct {
	ID      int64
	Code    string
	Message string
}

// Error implements error.
func (e *ResultError) Error() string {
	if e.Code == "" && e.Message == "" {
		return fmt.Sprintf("hass: request %d failed", e.ID)
	}
	return fmt.Sprintf("hass: request %d failed: %s: %s", e.ID, e.Code, e.Message)
}
