package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Bus defaults.
const (
	DefaultMaxInFlight = 16
	DefaultTimeout     = 30 * time.Second
	defaultErrorBuffer = 64
)

// Logger defines the logging interface used by the Bus.
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

// BusOptions configures a Bus. Zero values select the defaults.
type BusOptions struct {
	// MaxInFlight caps concurrently running handlers across all dispatches.
	MaxInFlight int64
	// Timeout bounds how long one dispatch waits for its handlers.
	Timeout time.Duration
	// ErrorBuffer is the capacity of the Errors channel.
	ErrorBuffer int
}

// BusStats is a snapshot of dispatch counters.
type BusStats struct {
	Dispatched    uint64 `json:"dispatched"`
	Invocations   uint64 `json:"invocations"`
	Failures      uint64 `json:"failures"`
	Timeouts      uint64 `json:"timeouts"`
	ErrorsDropped uint64 `json:"errors_dropped"`
}

// Bus runs registry handlers for events.
type Bus struct {
	registry *Registry
	sem      *semaphore.Weighted
	timeout  time.Duration
	errs     chan error
	logger   Logger

	dispatched    atomic.Uint64
	invocations   atomic.Uint64
	failures      atomic.Uint64
	timeouts      atomic.Uint64
	errorsDropped atomic.Uint64
}

// NewBus creates a Bus over registry.
func NewBus(registry *Registry, opts BusOptions) *Bus {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ErrorBuffer <= 0 {
		opts.ErrorBuffer = defaultErrorBuffer
	}
	return &Bus{
		registry: registry,
		sem:      semaphore.NewWeighted(opts.MaxInFlight),
		timeout:  opts.Timeout,
		errs:     make(chan error, opts.ErrorBuffer),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	b.logger = logger
}

// Registry returns the registry the bus dispatches from.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Errors delivers *CallbackError values. When nobody reads it, new errors are
// dropped (and counted) rather than blocking dispatch.
func (b *Bus) Errors() <-chan error {
	return b.errs
}

// Dispatch runs every handler registered for ev.Type and waits for them.
// Acquiring handler slots and waiting share one bus timeout, so handlers that
// never return cannot stall later dispatches. Handlers that could not get a
// slot in time are skipped and reported on Errors with ErrNoHandlerSlot.
//
// Parameters:
//   - ctx: Passed to handlers; cancelling it stops waiting
//   - ev: The event
//
// Returns:
//   - int: Number of handlers started
//   - error: ErrDispatchTimeout if the timeout expired first, or the context
//     error if ctx was cancelled
func (b *Bus) Dispatch(ctx context.Context, ev Event) (int, error) {
	regs := b.registry.Handlers(ev.Type)
	b.dispatched.Add(1)
	if len(regs) == 0 {
		return 0, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var wg sync.WaitGroup
	started := 0
	for i, reg := range regs {
		if err := b.sem.Acquire(waitCtx, 1); err != nil {
			for _, skipped := range regs[i:] {
				b.report(&CallbackError{EventType: ev.Type, Handler: skipped.Name, Err: ErrNoHandlerSlot})
			}
			b.logger.Warn("no free handler slot, skipping handlers",
				"event_type", ev.Type, "skipped", len(regs)-i)
			break
		}
		started++
		wg.Add(1)
		go func(reg Registration) {
			defer wg.Done()
			defer b.sem.Release(1)
			b.invoke(ctx, ev, reg)
		}(reg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if started < len(regs) {
			return started, b.expired(ctx)
		}
		return started, nil
	case <-waitCtx.Done():
		err := b.expired(ctx)
		if err == ErrDispatchTimeout {
			b.logger.Warn("event handlers still running after timeout",
				"event_type", ev.Type, "handlers", started, "timeout", b.timeout)
		}
		return started, err
	}
}

// expired returns the error for a dispatch whose wait ended early and counts
// timeouts.
func (b *Bus) expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.timeouts.Add(1)
	return ErrDispatchTimeout
}

func (b *Bus) invoke(ctx context.Context, ev Event, reg Registration) {
	b.invocations.Add(1)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = reg.Handler(ctx, ev)
	}()
	if err == nil {
		return
	}

	b.failures.Add(1)
	b.logger.Error("event handler failed", "event_type", ev.Type, "handler", reg.Name, "error", err)
	b.report(&CallbackError{EventType: ev.Type, Handler: reg.Name, Err: err})
}

// report queues err on the Errors channel without blocking.
func (b *Bus) report(err error) {
	select {
	case b.errs <- err:
	default:
		b.errorsDropped.Add(1)
	}
}

// Stats returns a snapshot of the dispatch counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Dispatched:    b.dispatched.Load(),
		Invocations:   b.invocations.Load(),
		Failures:      b.failures.Load(),
		Timeouts:      b.timeouts.Load(),
		ErrorsDropped: b.errorsDropped.Load(),
	}
}
