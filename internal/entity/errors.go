package entity

import "errors"

// Errors returned by the entity package.
var (
	// ErrDuplicateRegistration is returned when an entity id is registered twice.
	ErrDuplicateRegistration = errors.New("entity: already registered")

	// ErrInvalidEntityID is returned for ids without a "domain.object" shape.
	ErrInvalidEntityID = errors.New("entity: invalid entity id")

	// ErrNoServiceCaller is returned when an actuator is driven before a
	// service caller is attached to the store.
	ErrNoServiceCaller = errors.New("entity: no service caller configured")

	// ErrAttributeMissing is returned when a required attribute is absent.
	ErrAttributeMissing = errors.New("entity: attribute missing")

	// ErrInvalidTime is returned when a time-valued state cannot be parsed.
	ErrInvalidTime = errors.New("entity: invalid time value")
)
