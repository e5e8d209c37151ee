package hass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/event"
)

// defaultBacklogWarn is the queued-event count that triggers a warning.
const defaultBacklogWarn = 256

// DispatcherStats is a snapshot of dispatcher counters.
type DispatcherStats struct {
	Frames       uint64 `json:"frames"`
	Results      uint64 `json:"results"`
	Events       uint64 `json:"events"`
	StateChanges uint64 `json:"state_changes"`
	Removals     uint64 `json:"removals"`
	DecodeErrors uint64 `json:"decode_errors"`
	Backlog      int    `json:"backlog"`
	Open         bool   `json:"open"`
}

// Dispatcher owns every read from the socket once authentication is done.
//
// The reader routes result frames to the correlator immediately. Event frames
// are appended to an ordered queue that the processing loop drains only after
// Open is called, so events that race the initial state load are applied
// after it. The reader never blocks on event processing; a handler may issue
// a correlated request without deadlocking the connection.
type Dispatcher struct {
	codec     *Codec
	transport Transport
	corr      *Correlator
	store     *entity.Store
	bus       *event.Bus
	logger    Logger

	backlogWarn int

	mu      sync.Mutex
	queue   []*EventResponse
	wake    chan struct{}
	gate    chan struct{}
	gateOne sync.Once

	frames       atomic.Uint64
	results      atomic.Uint64
	events       atomic.Uint64
	stateChanges atomic.Uint64
	removals     atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewDispatcher creates a dispatcher. bus may be nil when no handlers are used.
func NewDispatcher(codec *Codec, transport Transport, corr *Correlator, store *entity.Store, bus *event.Bus) *Dispatcher {
	return &Dispatcher{
		codec:       codec,
		transport:   transport,
		corr:        corr,
		store:       store,
		bus:         bus,
		logger:      noopLogger{},
		backlogWarn: defaultBacklogWarn,
		wake:        make(chan struct{}, 1),
		gate:        make(chan struct{}),
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetBacklogWarning sets the queue length above which a warning is logged.
func (d *Dispatcher) SetBacklogWarning(n int) {
	if n > 0 {
		d.backlogWarn = n
	}
}

// Open releases queued events to the processing loop. Idempotent.
func (d *Dispatcher) Open() {
	d.gateOne.Do(func() { close(d.gate) })
}

// IsOpen reports whether Open has been called.
func (d *Dispatcher) IsOpen() bool {
	select {
	case <-d.gate:
		return true
	default:
		return false
	}
}

// Run reads frames until the context ends or the connection fails.
//
// Returns:
//   - error: ctx.Err() on cancellation, otherwise wraps ErrConnectionLost.
//     Pending requests are failed with ErrCorrelation in both cases.
func (d *Dispatcher) Run(ctx context.Context) error {
	procCtx, stopProc := context.WithCancel(ctx)
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		d.process(procCtx)
	}()

	err := d.read(ctx)
	d.corr.Fail(err)
	stopProc()
	<-procDone
	return err
}

func (d *Dispatcher) read(ctx context.Context) error {
	for {
		raw, err := d.transport.ReadMessage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			d.logger.Warn("hub connection lost", "error", err)
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		d.frames.Add(1)
		d.route(raw)
	}
}

// route handles one frame on the reader goroutine.
func (d *Dispatcher) route(raw []byte) {
	tag, v, err := d.codec.DecodeFrame(raw)
	if err != nil {
		d.decodeErrors.Add(1)
		d.logger.Warn("dropping malformed frame", "type", tag, "error", err)
		return
	}

	switch msg := v.(type) {
	case *ResultResponse:
		d.results.Add(1)
		d.corr.Resolve(msg)
	case *EventResponse:
		d.events.Add(1)
		d.enqueue(msg)
	default:
		d.logger.Debug("ignoring frame", "type", tag)
	}
}

func (d *Dispatcher) enqueue(ev *EventResponse) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	n := len(d.queue)
	d.mu.Unlock()

	if n == d.backlogWarn {
		d.logger.Warn("event backlog growing", "queued", n, "open", d.IsOpen())
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) take() []*EventResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	batch := d.queue
	d.queue = nil
	return batch
}

func (d *Dispatcher) process(ctx context.Context) {
	select {
	case <-d.gate:
	case <-ctx.Done():
		return
	}

	for {
		for _, ev := range d.take() {
			if ctx.Err() != nil {
				return
			}
			d.handle(ctx, ev)
		}
		select {
		case <-d.wake:
		case <-ctx.Done():
			return
		}
	}
}

// handle applies state changes to the store, then dispatches the event to
// every handler registered for its type.
func (d *Dispatcher) handle(ctx context.Context, resp *EventResponse) {
	msg := resp.Event
	if msg.EventType == "" {
		d.decodeErrors.Add(1)
		d.logger.Warn("dropping event without event_type", "subscription", resp.ID)
		return
	}

	data, known, err := d.codec.DecodeEventData(msg.EventType, msg.Data)
	if err != nil {
		d.decodeErrors.Add(1)
		d.logger.Warn("dropping malformed event", "event_type", msg.EventType, "error", err)
		return
	}
	if known {
		if sc, ok := data.(*StateChangedData); ok {
			d.applyStateChange(sc)
		}
	}

	if d.bus == nil {
		return
	}
	_, err = d.bus.Dispatch(ctx, event.Event{
		Type:      msg.EventType,
		Data:      msg.Data,
		TimeFired: msg.Fired(),
		Origin:    msg.Origin,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("event dispatch incomplete", "event_type", msg.EventType, "error", err)
	}
}

func (d *Dispatcher) applyStateChange(sc *StateChangedData) {
	if err := entity.ValidateID(sc.EntityID); err != nil {
		d.decodeErrors.Add(1)
		d.logger.Warn("state change for invalid entity", "error", err)
		return
	}
	if sc.Removed() {
		d.removals.Add(1)
		d.logger.Debug("entity removed by hub", "entity_id", sc.EntityID)
		return
	}

	flat, err := entity.FlattenJSON(sc.NewState)
	if err != nil {
		d.decodeErrors.Add(1)
		d.logger.Warn("dropping malformed new_state", "entity_id", sc.EntityID, "error", err)
		return
	}

	old, updated := d.store.Apply(sc.EntityID, flat)
	d.store.UpdateSensor(sc.EntityID, old, updated)
	d.store.UpdateActuator(sc.EntityID, old, updated)
	d.stateChanges.Add(1)
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.Lock()
	backlog := len(d.queue)
	d.mu.Unlock()
	return DispatcherStats{
		Frames:       d.frames.Load(),
		Results:      d.results.Load(),
		Events:       d.events.Load(),
		StateChanges: d.stateChanges.Load(),
		Removals:     d.removals.Load(),
		DecodeErrors: d.decodeErrors.Load(),
		Backlog:      backlog,
		Open:         d.IsOpen(),
	}
}
