package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// OriginLocal marks events emitted inside this process.
const OriginLocal = "LOCAL"

// CustomEvents is a client-side event channel with the same registration
// surface as hub events. Nothing emitted here reaches the hub.
type CustomEvents struct {
	registry *Registry
	bus      *Bus
	now      func() time.Time
}

// NewCustomEvents creates a custom event channel with its own registry.
func NewCustomEvents(opts BusOptions) *CustomEvents {
	registry := NewRegistry()
	return &CustomEvents{
		registry: registry,
		bus:      NewBus(registry, opts),
		now:      time.Now,
	}
}

// SetLogger sets the logger for handler failures.
func (c *CustomEvents) SetLogger(logger Logger) {
	c.bus.SetLogger(logger)
}

// Subscribe registers a named handler, replacing one with the same name.
func (c *CustomEvents) Subscribe(name, handlerName string, h Handler) {
	c.registry.Subscribe(name, handlerName, h)
}

// SubscribeAnonymous appends a handler and returns its handle.
func (c *CustomEvents) SubscribeAnonymous(name string, h Handler) string {
	return c.registry.SubscribeAnonymous(name, h)
}

// Unsubscribe removes a handler by name or handle.
func (c *CustomEvents) Unsubscribe(name, nameOrHandle string) bool {
	return c.registry.Unsubscribe(name, nameOrHandle)
}

// Emit marshals payload and dispatches it to handlers of name.
//
// Returns:
//   - int: Number of handlers invoked
//   - error: Marshalling failure or a dispatch error
func (c *CustomEvents) Emit(ctx context.Context, name string, payload any) (int, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshalling %s payload: %w", name, err)
		}
		data = b
	}
	return c.bus.Dispatch(ctx, Event{
		Type:      name,
		Data:      data,
		TimeFired: c.now(),
		Origin:    OriginLocal,
	})
}

// Errors exposes handler failures.
func (c *CustomEvents) Errors() <-chan error {
	return c.bus.Errors()
}

// Registry returns the underlying registry.
func (c *CustomEvents) Registry() *Registry {
	return c.registry
}
