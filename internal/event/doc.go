// Package event routes hub and client-side events to user callbacks.
//
// A Registry maps an event type to an ordered list of registrations. Named
// registrations overwrite an existing one with the same name; anonymous
// registrations append and return a handle for Unsubscribe.
//
// A Bus dispatches one event to every handler registered for its type. Each
// handler runs as its own unit of work, bounded by a weighted semaphore so a
// burst of events cannot grow goroutines without limit. Dispatch waits for
// the handlers of one event (or a timeout) before returning, so events keep
// their order. A handler that returns an error or panics is logged and
// reported on Errors() as a *CallbackError; it never stops the other handlers.
//
// CustomEvents offers the same registration surface for events that exist
// only inside this process.
package event
