package hass

import (
	"encoding/json"
	"time"
)

// Frame type tags.
const (
	TypeAuthRequired    = "auth_required"
	TypeAuth            = "auth"
	TypeAuthOK          = "auth_ok"
	TypeAuthInvalid     = "auth_invalid"
	TypeResult          = "result"
	TypeEvent           = "event"
	TypeGetStates       = "get_states"
	TypeSubscribeEvents = "subscribe_events"
	TypeCallService     = "call_service"
)

// EventStateChanged is the hub event carrying entity state updates.
const EventStateChanged = "state_changed"

// Request is an outbound, correlated message.
type Request interface {
	MessageType() string
	SetID(id int64)
	RequestID() int64
}

// Envelope is the {id, type} header shared by every correlated request.
type Envelope struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// MessageType returns the type tag.
func (e *Envelope) MessageType() string { return e.Type }

// SetID stamps the correlation id.
func (e *Envelope) SetID(id int64) { e.ID = id }

// RequestID returns the correlation id.
func (e *Envelope) RequestID() int64 { return e.ID }

// GetStatesRequest asks for every entity's current state.
type GetStatesRequest struct {
	Envelope
}

// NewGetStates creates a get_states request.
func NewGetStates() *GetStatesRequest {
	return &GetStatesRequest{Envelope{Type: TypeGetStates}}
}

// SubscribeEventsRequest registers interest in one event type.
type SubscribeEventsRequest struct {
	Envelope
	EventType string `json:"event_type,omitempty"`
}

// NewSubscribeEvents creates a subscribe_events request.
func NewSubscribeEvents(eventType string) *SubscribeEventsRequest {
	return &SubscribeEventsRequest{Envelope: Envelope{Type: TypeSubscribeEvents}, EventType: eventType}
}

// CallServiceRequest invokes domain.service on the hub.
type CallServiceRequest struct {
	Envelope
	Domain      string         `json:"domain"`
	Service     string         `json:"service"`
	ServiceData map[string]any `json:"service_data"`
}

// NewCallService creates a call_service request. service_data always carries
// entity_id; data keys are merged after it.
func NewCallService(domain, service, entityID string, data map[string]any) *CallServiceRequest {
	sd := make(map[string]any, len(data)+1)
	for k, v := range data {
		sd[k] = v
	}
	sd["entity_id"] = entityID
	return &CallServiceRequest{
		Envelope:    Envelope{Type: TypeCallService},
		Domain:      domain,
		Service:     service,
		ServiceData: sd,
	}
}

// AuthMessage carries the access token. It has no id.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// AuthFrame is any of auth_required, auth_ok or auth_invalid.
type AuthFrame struct {
	Type      string `json:"type"`
	HAVersion string `json:"ha_version,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ErrorInfo is the error object of a failed result.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultResponse answers one correlated request.
type ResultResponse struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   *ErrorInfo      `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// EventResponse delivers one event for a subscription.
type EventResponse struct {
	ID    int64        `json:"id"`
	Type  string       `json:"type"`
	Event EventMessage `json:"event"`
}

// EventMessage is the event body inside an EventResponse.
type EventMessage struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired string          `json:"time_fired"`
}

// Fired parses time_fired; zero when absent or malformed.
func (m EventMessage) Fired() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.TimeFired)
	if err != nil {
		return time.Time{}
	}
	return t
}

// StateChangedData is the data of a state_changed event. new_state is null
// when an entity is removed.
type StateChangedData struct {
	EntityID string          `json:"entity_id"`
	NewState json.RawMessage `json:"new_state"`
	OldState json.RawMessage `json:"old_state,omitempty"`
}

// Removed reports whether the event announces the entity's removal.
func (d *StateChangedData) Removed() bool {
	return len(d.NewState) == 0 || string(d.NewState) == "null"
}
