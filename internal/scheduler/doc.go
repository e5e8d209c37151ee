// Package scheduler runs time-based automations.
//
// Tasks fire at an explicit instant, at a wall-clock time ("HH:MM"), at a time
// held by an entity (input_datetime style), after a relative delay, or at the
// next sunrise/sunset read from the sun.sun mirror with a signed minute offset.
// Recurring tasks fire at a fixed rate: a late fire does not shift later
// ones, and fires missed while the process was busy are skipped rather than
// replayed.
//
// Every task is cancellable, and CancelAll is the global stop. A cancelled
// task never fires again; a fire already in progress completes.
//
// In sandbox mode nothing is put on a timer. FireSandbox runs every live task
// once, synchronously, so automations can be exercised without waiting for
// the clock.
package scheduler
