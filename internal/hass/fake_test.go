package hass

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport. Frames pushed onto in are read by
// the client; frames the client writes appear on out.
type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 128),
		out:    make(chan []byte, 128),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	select {
	case f.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// hubRequest is one correlated request seen by the fake hub.
type hubRequest struct {
	ID   int64
	Type string
	Raw  map[string]any
}

// fakeHub scripts the hub side of a fakeTransport.
type fakeHub struct {
	t      *testing.T
	tr     *fakeTransport
	token  string
	handle func(h *fakeHub, req hubRequest)

	mu       sync.Mutex
	requests []hubRequest
}

const testToken = "secret"

// startHub greets with auth_required, checks the token and then hands every
// request to handle. A nil handle answers get_states with testStates and
// everything else with an empty success.
func startHub(t *testing.T, handle func(h *fakeHub, req hubRequest)) *fakeHub {
	t.Helper()
	h := &fakeHub{t: t, tr: newFakeTransport(), token: testToken, handle: handle}
	if h.handle == nil {
		h.handle = defaultHandle
	}
	h.send(map[string]any{"type": TypeAuthRequired, "ha_version": "2024.1.0"})
	go h.loop()
	t.Cleanup(func() { h.tr.Close() })
	return h
}

func (h *fakeHub) loop() {
	authed := false
	for {
		var data []byte
		select {
		case data = <-h.tr.out:
		case <-h.tr.closed:
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			h.t.Errorf("hub got invalid json: %v", err)
			return
		}
		typ, _ := msg["type"].(string)

		if !authed {
			if typ != TypeAuth {
				h.t.Errorf("hub expected auth, got %q", typ)
				return
			}
			if msg["access_token"] != h.token {
				h.send(map[string]any{"type": TypeAuthInvalid, "message": "Invalid access token"})
				continue
			}
			authed = true
			h.send(map[string]any{"type": TypeAuthOK, "ha_version": "2024.1.0"})
			continue
		}

		id, _ := msg["id"].(float64)
		req := hubRequest{ID: int64(id), Type: typ, Raw: msg}
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()
		h.handle(h, req)
	}
}

func (h *fakeHub) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	h.sendRaw(string(data))
}

func (h *fakeHub) sendRaw(s string) {
	select {
	case h.tr.in <- []byte(s):
	case <-time.After(time.Second):
		h.t.Errorf("hub send blocked")
	}
}

func (h *fakeHub) result(id int64, result any) {
	h.send(map[string]any{"id": id, "type": TypeResult, "success": true, "result": result})
}

func (h *fakeHub) failure(id int64, code, message string) {
	h.send(map[string]any{
		"id": id, "type": TypeResult, "success": false,
		"error": map[string]any{"code": code, "message": message},
	})
}

func (h *fakeHub) stateChanged(entityID, value string) {
	h.send(map[string]any{
		"id":   1,
		"type": TypeEvent,
		"event": map[string]any{
			"event_type": EventStateChanged,
			"time_fired": "2024-06-01T12:00:00.000000+00:00",
			"origin":     "LOCAL",
			"data": map[string]any{
				"entity_id": entityID,
				"new_state": snapshot(entityID, value, nil),
			},
		},
	})
}

func (h *fakeHub) seen() []hubRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hubRequest(nil), h.requests...)
}

func (h *fakeHub) dial() DialFunc {
	return func(context.Context) (Transport, error) { return h.tr, nil }
}

func snapshot(entityID, value string, attrs map[string]any) map[string]any {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return map[string]any{
		"entity_id":    entityID,
		"state":        value,
		"last_updated": "2024-06-01T11:00:00+00:00",
		"last_changed": "2024-06-01T11:00:00+00:00",
		"context":      map[string]any{"user_id": "u1"},
		"attributes":   attrs,
	}
}

var testStates = []any{
	snapshot("light.kitchen", "off", map[string]any{"brightness": 0}),
	snapshot("sensor.temperature", "21.5", map[string]any{"unit_of_measurement": "°C"}),
}

func defaultHandle(h *fakeHub, req hubRequest) {
	switch req.Type {
	case TypeGetStates:
		h.result(req.ID, testStates)
	default:
		h.result(req.ID, nil)
	}
}
