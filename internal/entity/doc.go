// Package entity mirrors hub entity state locally.
//
// Each entity id has exactly one Mirror, created the first time a snapshot or
// state_changed event mentions it and then updated in place for the life of
// the process. Hub snapshots are nested ({state, attributes, context, ...});
// Flatten turns them into a single namespace where the reserved keys value,
// last_updated, last_changed and user_id are always present and never
// shadowed by custom attributes.
//
// Automations declare interest through the Store: RegisterSensor for read-only
// views with change observers, RegisterActuator for entities that are also
// driven through hub service calls. A registration is validated against the
// entity ids the hub reports at startup; unknown ids are reported, not fatal.
//
// The sun.sun entity and time-valued entities (input_datetime) have helpers
// used by the scheduler.
package entity
