package hass

import (
	"encoding/json"
	"fmt"
	"sync"
)

// EncodeFunc serializes an outbound message.
type EncodeFunc func(v any) ([]byte, error)

// DecodeFunc deserializes an inbound payload into its concrete type.
type DecodeFunc func(raw []byte) (any, error)

// Codec maps type tags to encode/decode pairs. Frames are keyed by their
// "type" tag, event payloads by their event_type.
//
// All methods are thread-safe; registration normally happens at startup.
type Codec struct {
	mu         sync.RWMutex
	encoders   map[string]EncodeFunc
	frames     map[string]DecodeFunc
	eventDatas map[string]DecodeFunc
}

// decodeAs returns a DecodeFunc producing *T.
func decodeAs[T any]() DecodeFunc {
	return func(raw []byte) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// NewCodec returns a codec with the hub protocol registered.
func NewCodec() *Codec {
	c := &Codec{
		encoders:   make(map[string]EncodeFunc),
		frames:     make(map[string]DecodeFunc),
		eventDatas: make(map[string]DecodeFunc),
	}

	for _, tag := range []string{TypeAuth, TypeGetStates, TypeSubscribeEvents, TypeCallService} {
		c.RegisterEncoder(tag, encodeJSON)
	}
	c.RegisterFrame(TypeResult, decodeAs[ResultResponse]())
	c.RegisterFrame(TypeEvent, decodeAs[EventResponse]())
	for _, tag := range []string{TypeAuthRequired, TypeAuthOK, TypeAuthInvalid} {
		c.RegisterFrame(tag, decodeAs[AuthFrame]())
	}
	c.RegisterEventData(EventStateChanged, decodeAs[StateChangedData]())

	return c
}

// RegisterEncoder sets the encoder for an outbound type tag.
func (c *Codec) RegisterEncoder(tag string, fn EncodeFunc) {
	c.mu.Lock()
	c.encoders[tag] = fn
	c.mu.Unlock()
}

// RegisterFrame sets the decoder for an inbound frame type tag.
func (c *Codec) RegisterFrame(tag string, fn DecodeFunc) {
	c.mu.Lock()
	c.frames[tag] = fn
	c.mu.Unlock()
}

// RegisterEventData sets the decoder for one event type's data.
func (c *Codec) RegisterEventData(eventType string, fn DecodeFunc) {
	c.mu.Lock()
	c.eventDatas[eventType] = fn
	c.mu.Unlock()
}

// Encode serializes an outbound message with the encoder for tag.
func (c *Codec) Encode(tag string, v any) ([]byte, error) {
	c.mu.RLock()
	fn, ok := c.encoders[tag]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: encode %q", ErrUnknownTag, tag)
	}
	data, err := fn(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", tag, err)
	}
	return data, nil
}

// DecodeFrame reads the type discriminator and decodes the frame.
//
// Returns:
//   - string: The frame's type tag
//   - any: The decoded value (*ResultResponse, *EventResponse, *AuthFrame, ...)
//   - error: Wraps ErrDecode for malformed JSON or unknown tags
func (c *Codec) DecodeFrame(raw []byte) (string, any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if head.Type == "" {
		return "", nil, fmt.Errorf("%w: missing type", ErrDecode)
	}

	c.mu.RLock()
	fn, ok := c.frames[head.Type]
	c.mu.RUnlock()
	if !ok {
		return head.Type, nil, fmt.Errorf("%w: %w %q", ErrDecode, ErrUnknownTag, head.Type)
	}

	v, err := fn(raw)
	if err != nil {
		return head.Type, nil, fmt.Errorf("%w: %s: %w", ErrDecode, head.Type, err)
	}
	return head.Type, v, nil
}

// DecodeEventData decodes event data for a registered event type. ok is false
// when no decoder is registered for eventType.
func (c *Codec) DecodeEventData(eventType string, raw []byte) (v any, ok bool, err error) {
	c.mu.RLock()
	fn, ok := c.eventDatas[eventType]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	v, err = fn(raw)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %s data: %w", ErrDecode, eventType, err)
	}
	return v, true, nil
}
