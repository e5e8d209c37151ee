package scheduler

import (
	"context"
	"sync"
	"time"
)

// Action is the work a task performs. A returned error is logged.
type Action func(ctx context.Context) error

// State is a task's lifecycle position.
type State int

// Task states. Done and Cancelled are terminal.
const (
	Scheduled State = iota
	Running
	Done
	Cancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Done:
		return "done"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// nextFunc computes the fire after prev for calendar and sun recurrences.
type nextFunc func(prev time.Time) (time.Time, error)

// Task is a handle to one scheduled action.
type Task struct {
	id     string
	name   string
	sched  *Scheduler
	action Action

	mu        sync.Mutex
	state     State
	next      time.Time
	period    time.Duration
	nextFn    nextFunc
	remaining int
	timer     Timer
	runs      uint64
	lastErr   error
}

// TaskInfo is a read-only snapshot of a task.
type TaskInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Next    time.Time `json:"next"`
	Period  string    `json:"period,omitempty"`
	Runs    uint64    `json:"runs"`
	LastErr string    `json:"last_error,omitempty"`
}

// ID returns the task's unique id.
func (t *Task) ID() string { return t.id }

// Name returns the task's description.
func (t *Task) Name() string { return t.name }

// State returns the task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Next returns the next fire time.
func (t *Task) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Runs returns how many times the action has run.
func (t *Task) Runs() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}

// Info returns a snapshot of the task.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := TaskInfo{
		ID:    t.id,
		Name:  t.name,
		State: t.state.String(),
		Next:  t.next,
		Runs:  t.runs,
	}
	if t.period > 0 {
		info.Period = t.period.String()
	}
	if t.lastErr != nil {
		info.LastErr = t.lastErr.Error()
	}
	return info
}

// Cancel stops the task. It returns false if the task had already finished
// or been cancelled. A fire in progress completes but is not followed by
// another.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	switch t.state {
	case Done, Cancelled:
		t.mu.Unlock()
		return false
	case Scheduled:
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	t.state = Cancelled
	t.mu.Unlock()

	t.sched.forget(t)
	t.sched.logger.Debug("task cancelled", "task", t.id, "name", t.name)
	return true
}

// CancelIn schedules a one-shot task that cancels this one after d.
func (t *Task) CancelIn(d time.Duration) (*Task, error) {
	return t.sched.RunOnceIn(d, func(context.Context) error {
		t.Cancel()
		return nil
	})
}

// CancelInSeconds cancels the task after n seconds.
func (t *Task) CancelInSeconds(n int) (*Task, error) {
	return t.CancelIn(time.Duration(n) * time.Second)
}

// CancelInMinutes cancels the task after n minutes.
func (t *Task) CancelInMinutes(n int) (*Task, error) {
	return t.CancelIn(time.Duration(n) * time.Minute)
}

// advance computes the fire after prev. done is true when the task has no
// further fires. Called with t.mu held.
func (t *Task) advance(prev, now time.Time) (next time.Time, done bool, err error) {
	if t.remaining > 0 {
		t.remaining--
		if t.remaining == 0 {
			return time.Time{}, true, nil
		}
	}

	switch {
	case t.period > 0:
		next = prev.Add(t.period)
		if !next.After(now) {
			missed := now.Sub(next)/t.period + 1
			next = next.Add(missed * t.period)
		}
		return next, false, nil
	case t.nextFn != nil:
		next, err = t.nextFn(prev)
		if err != nil {
			return time.Time{}, true, err
		}
		for !next.After(now) {
			if next, err = t.nextFn(next); err != nil {
				return time.Time{}, true, err
			}
		}
		return next, false, nil
	default:
		return time.Time{}, true, nil
	}
}
