package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-hass/internal/entity"
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Scheduler.
type Options struct {
	// Clock defaults to the wall clock.
	Clock Clock
	// Location is used for wall-clock times. Defaults to time.Local.
	Location *time.Location
	// Sandbox disables timers; use FireSandbox to run tasks.
	Sandbox bool
	// BaseContext is passed to actions. Defaults to context.Background().
	BaseContext context.Context
}

// Scheduler owns a set of tasks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Actions run on timer goroutines, never on the caller's.
type Scheduler struct {
	clock   Clock
	loc     *time.Location
	sandbox bool
	store   *entity.Store
	sun     *entity.Sun
	logger  Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool
}

// New creates a scheduler. store supplies entity time sources and the sun
// mirror; it may be nil when neither is used.
func New(store *entity.Store, opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	ctx, cancel := context.WithCancel(opts.BaseContext)

	s := &Scheduler{
		clock:   opts.Clock,
		loc:     opts.Location,
		sandbox: opts.Sandbox,
		store:   store,
		logger:  noopLogger{},
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*Task),
	}
	if store != nil {
		s.sun = entity.NewSun(store, opts.Location)
	}
	return s
}

// SetLogger sets the logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Sandbox reports whether the scheduler runs without timers.
func (s *Scheduler) Sandbox() bool {
	return s.sandbox
}

// Now returns the scheduler clock's time in its location.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now().In(s.loc)
}

// Location returns the location used for wall-clock times.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// schedule registers a task and arms its first fire.
func (s *Scheduler) schedule(t *Task) (*Task, error) {
	t.id = uuid.NewString()
	t.sched = s

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.tasks[t.id] = t
	s.mu.Unlock()

	t.mu.Lock()
	s.arm(t)
	t.mu.Unlock()

	s.logger.Debug("task scheduled", "task", t.id, "name", t.name, "next", t.next)
	return t, nil
}

// arm puts the task's next fire on a timer. Called with t.mu held.
func (s *Scheduler) arm(t *Task) {
	if s.sandbox {
		return
	}
	d := t.next.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	t.timer = s.clock.AfterFunc(d, func() { s.fire(t) })
}

// fire runs one execution of t and arms the next.
func (s *Scheduler) fire(t *Task) {
	t.mu.Lock()
	if t.state != Scheduled {
		t.mu.Unlock()
		return
	}
	t.state = Running
	t.timer = nil
	fireAt := t.next
	t.mu.Unlock()

	err := s.run(t)

	t.mu.Lock()
	t.runs++
	t.lastErr = err
	if t.state == Cancelled {
		t.mu.Unlock()
		return
	}

	next, done, nerr := t.advance(fireAt, s.clock.Now())
	if nerr != nil {
		s.logger.Warn("task cannot compute next fire", "task", t.id, "name", t.name, "error", nerr)
	}
	if done {
		t.state = Done
		t.mu.Unlock()
		s.forget(t)
		return
	}
	t.next = next
	t.state = Scheduled
	s.arm(t)
	t.mu.Unlock()
}

func (s *Scheduler) run(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			s.logger.Error("task panic recovered", "task", t.id, "name", t.name, "panic", r)
		}
	}()
	err = t.action(s.ctx)
	if err != nil {
		s.logger.Warn("task failed", "task", t.id, "name", t.name, "error", err)
	}
	return err
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t.id)
	s.mu.Unlock()
}

func (s *Scheduler) live() []*Task {
	s.mu.Lock()
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		ni, nj := tasks[i].Next(), tasks[j].Next()
		if ni.Equal(nj) {
			return tasks[i].id < tasks[j].id
		}
		return ni.Before(nj)
	})
	return tasks
}

// Tasks returns snapshots of all live tasks ordered by next fire.
func (s *Scheduler) Tasks() []TaskInfo {
	tasks := s.live()
	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Info())
	}
	return out
}

// Task returns a live task by id.
func (s *Scheduler) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Len returns the number of live tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CancelAll cancels every live task and returns how many were cancelled.
func (s *Scheduler) CancelAll() int {
	n := 0
	for _, t := range s.live() {
		if t.Cancel() {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("all scheduled tasks cancelled", "count", n)
	}
	return n
}

// FireSandbox runs every live task once, in next-fire order, on the caller's
// goroutine. It returns the number of tasks fired. Outside sandbox mode it
// does nothing.
func (s *Scheduler) FireSandbox() int {
	if !s.sandbox {
		s.logger.Warn("sandbox fire requested outside sandbox mode")
		return 0
	}
	n := 0
	for _, t := range s.live() {
		if t.State() != Scheduled {
			continue
		}
		s.fire(t)
		n++
	}
	return n
}

// Close cancels all tasks and refuses new ones. Actions in progress see
// their context cancelled.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
	s.cancel()
}
