package entity

import (
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"
)

// State is one entity's last-known state.
type State struct {
	EntityID    string         `json:"entity_id"`
	Value       any            `json:"value"`
	LastUpdated time.Time      `json:"last_updated"`
	LastChanged time.Time      `json:"last_changed"`
	UserID      string         `json:"user_id,omitempty"`
	Attributes  map[string]any `json:"attributes"`
}

// String returns the value formatted as text, "" when unknown.
func (s State) String() string {
	if s.Value == nil {
		return ""
	}
	if v, ok := s.Value.(string); ok {
		return v
	}
	return fmt.Sprint(s.Value)
}

// Attribute returns a custom attribute.
func (s State) Attribute(key string) (any, bool) {
	v, ok := s.Attributes[key]
	return v, ok
}

// Domain returns the part of the entity id before the dot.
func (s State) Domain() string {
	return Domain(s.EntityID)
}

// Clone returns a copy whose attribute map can be modified independently.
func (s State) Clone() State {
	s.Attributes = maps.Clone(s.Attributes)
	if s.Attributes == nil {
		s.Attributes = map[string]any{}
	}
	return s
}

// FromFlat converts a flattened mapping into a State.
func FromFlat(entityID string, flat map[string]any) State {
	st := State{
		EntityID:    entityID,
		Value:       flat[KeyValue],
		LastUpdated: parseTimestamp(flat[KeyLastUpdated]),
		LastChanged: parseTimestamp(flat[KeyLastChanged]),
		Attributes:  make(map[string]any, len(flat)),
	}
	if uid, ok := flat[KeyUserID].(string); ok {
		st.UserID = uid
	}
	for k, v := range flat {
		if !IsReserved(k) {
			st.Attributes[k] = v
		}
	}
	return st
}

// parseTimestamp accepts the hub's RFC 3339 timestamps; anything else is zero.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// Domain returns the domain of an entity id ("light" for "light.kitchen").
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

// ValidateID checks the "domain.object" shape of an entity id.
func ValidateID(entityID string) error {
	domain, object, ok := strings.Cut(entityID, ".")
	if !ok || domain == "" || object == "" || strings.ContainsAny(entityID, " /#+") {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return nil
}

// Mirror is the local copy of one entity. It is updated in place.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Mirror struct {
	mu      sync.RWMutex
	state   State
	seen    bool
	updates uint64
}

func newMirror(entityID string) *Mirror {
	return &Mirror{state: State{EntityID: entityID, Attributes: map[string]any{}}}
}

// ID returns the entity id.
func (m *Mirror) ID() string {
	return m.state.EntityID
}

// State returns a copy of the current state.
func (m *Mirror) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Seen reports whether the hub has ever reported this entity.
func (m *Mirror) Seen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seen
}

// Updates returns how many times the mirror has been applied.
func (m *Mirror) Updates() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}

// apply replaces the mirror's contents with a flattened state and returns the
// previous and new state.
func (m *Mirror) apply(flat map[string]any) (old, updated State) {
	next := FromFlat(m.state.EntityID, flat)

	m.mu.Lock()
	defer m.mu.Unlock()

	old = m.state.Clone()
	m.state.Value = next.Value
	m.state.LastUpdated = next.LastUpdated
	m.state.LastChanged = next.LastChanged
	m.state.UserID = next.UserID
	clear(m.state.Attributes)
	maps.Copy(m.state.Attributes, next.Attributes)
	m.seen = true
	m.updates++

	return old, m.state.Clone()
}
