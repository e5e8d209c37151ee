package scheduler

import "errors"

// Errors returned by the scheduler.
var (
	// ErrClosed is returned when scheduling on a closed scheduler.
	ErrClosed = errors.New("scheduler: closed")

	// ErrInvalidPeriod is returned for a non-positive recurrence period.
	ErrInvalidPeriod = errors.New("scheduler: period must be positive")

	// ErrInvalidCount is returned for a non-positive repeat count.
	ErrInvalidCount = errors.New("scheduler: count must be positive")

	// ErrInvalidOffset is returned for a malformed sun offset.
	ErrInvalidOffset = errors.New("scheduler: invalid offset")

	// ErrEntityUnavailable is returned when a time-source entity has no state.
	ErrEntityUnavailable = errors.New("scheduler: entity has no state")

	// ErrNoSun is returned when sun tasks are scheduled without an entity store.
	ErrNoSun = errors.New("scheduler: sun entity not available")
)
