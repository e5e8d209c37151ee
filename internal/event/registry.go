package event

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is what handlers receive.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    string          `json:"origin"`
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Handler is a user callback.
type Handler func(ctx context.Context, ev Event) error

// Registration is one entry in the registry.
type Registration struct {
	// Name is the caller-chosen name, or the generated handle for anonymous
	// registrations.
	Name      string
	Anonymous bool
	Handler   Handler
}

// Registry maps event types to ordered registrations.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Registration)}
}

// Subscribe registers h under name. An existing registration with the same
// name for eventType is replaced in place, keeping its position.
func (r *Registry) Subscribe(eventType, name string, h Handler) {
	if name == "" {
		r.SubscribeAnonymous(eventType, h)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[eventType]
	for i := range regs {
		if !regs[i].Anonymous && regs[i].Name == name {
			regs[i].Handler = h
			return
		}
	}
	r.handlers[eventType] = append(regs, Registration{Name: name, Handler: h})
}

// SubscribeAnonymous appends h and returns a handle for Unsubscribe.
func (r *Registry) SubscribeAnonymous(eventType string, h Handler) string {
	handle := uuid.NewString()

	r.mu.Lock()
	r.handlers[eventType] = append(r.handlers[eventType], Registration{Name: handle, Anonymous: true, Handler: h})
	r.mu.Unlock()

	return handle
}

// Unsubscribe removes the registration with the given name or handle.
// It reports whether anything was removed.
func (r *Registry) Unsubscribe(eventType, nameOrHandle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[eventType]
	for i := range regs {
		if regs[i].Name == nameOrHandle {
			r.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			if len(r.handlers[eventType]) == 0 {
				delete(r.handlers, eventType)
			}
			return true
		}
	}
	return false
}

// Handlers returns a snapshot of the registrations for eventType.
func (r *Registry) Handlers(eventType string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.handlers[eventType]
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// Count returns the number of registrations for eventType.
func (r *Registry) Count(eventType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// EventTypes returns every event type with at least one registration.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
