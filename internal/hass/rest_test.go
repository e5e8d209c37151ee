package hass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRESTServer(t *testing.T) (*httptest.Server, *map[string]any) {
	t.Helper()
	lastBody := map[string]any{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/api/":
			_ = json.NewEncoder(w).Encode(map[string]any{"message": "API running."})
		case r.URL.Path == "/api/states":
			_ = json.NewEncoder(w).Encode(testStates)
		case r.URL.Path == "/api/states/light.kitchen":
			_ = json.NewEncoder(w).Encode(testStates[0])
		case r.URL.Path == "/api/services/light/turn_on" && r.Method == http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&lastBody))
			_ = json.NewEncoder(w).Encode([]any{})
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &lastBody
}

func TestRESTClient(t *testing.T) {
	srv, lastBody := newRESTServer(t)
	c := NewRESTClientURL(srv.URL, testToken)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	states, err := c.GetStates(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2)

	st, err := c.GetState(ctx, "light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "off", st["state"])

	_, err = c.CallService(ctx, "light", "turn_on", "light.kitchen", map[string]any{"brightness": 10})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"entity_id": "light.kitchen", "brightness": float64(10)}, *lastBody)

	_, err = c.GetState(ctx, "light.unknown")
	assert.ErrorIs(t, err, ErrRESTStatus)
}

func TestRESTClient_BadToken(t *testing.T) {
	srv, _ := newRESTServer(t)
	c := NewRESTClientURL(srv.URL, "wrong")

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestNewRESTClient_URL(t *testing.T) {
	c := NewRESTClient("hub.local", 8123, true, "t", 0)
	assert.Equal(t, "https://hub.local:8123", c.baseURL)
	assert.Equal(t, "wss://hub.local:8123/api/websocket", DialOptions{Host: "hub.local", Port: 8123, Secure: true}.URL())
}
