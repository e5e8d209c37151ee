package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
	"github.com/nerrad567/gray-logic-hass/migrations"
)

type fakeLink struct {
	connected bool
}

func (l fakeLink) Connected() bool { return l.connected }

func (l fakeLink) Stats() hass.SessionStats {
	return hass.SessionStats{Correlator: hass.CorrelatorStats{Sent: 3, Resolved: 3}}
}

type fakeTasks []scheduler.TaskInfo

func (f fakeTasks) Tasks() []scheduler.TaskInfo { return f }

type fakeRelay struct{}

func (fakeRelay) Stats() relay.Stats { return relay.Stats{Relayed: 7} }

type fakeTelemetry struct{}

func (fakeTelemetry) Stats() influxdb.Stats {
	return influxdb.Stats{Connected: true, Points: 12, Filtered: 4}
}

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	store   *entity.Store
	history *entity.SQLiteHistory
	calls   *audit.SQLiteRepository
}

func newTestEnv(t *testing.T, connected bool) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))

	var buf bytes.Buffer
	logger := logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, "test", &buf)

	env := &testEnv{
		store:   entity.NewStore(),
		history: entity.NewSQLiteHistory(db.DB),
		calls:   audit.NewSQLiteRepository(db.DB),
	}
	env.srv, err = New(Deps{
		Logger:  logger,
		Store:   env.store,
		History: env.history,
		Calls:   env.calls,
		Scheduler: fakeTasks{{
			ID: "t1", Name: "porch lights", State: "scheduled", Period: "24h0m0s",
		}},
		Link:      fakeLink{connected: connected},
		Relay:     fakeRelay{},
		Telemetry: fakeTelemetry{},
		Version:   "test",
	})
	require.NoError(t, err)

	env.http = httptest.NewServer(env.srv.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) apply(id string, value any) entity.State {
	_, updated := e.store.Apply(id, map[string]any{
		entity.KeyValue:       value,
		entity.KeyLastUpdated: time.Now().UTC().Format(time.RFC3339Nano),
		"friendly_name":       id,
	})
	return updated
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{Store: entity.NewStore()})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Default()})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		want      string
	}{
		{"connected", true, "ok"},
		{"disconnected", false, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.connected)
			env.apply("light.porch", "on")

			var body map[string]any
			status := env.getJSON(t, "/api/v1/health", &body)
			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, tt.want, body["status"])
			assert.Equal(t, tt.connected, body["hub_connected"])
			assert.EqualValues(t, 1, body["entities"])
		})
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, true)

	var body map[string]any
	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/stats", &body))
	assert.Contains(t, body, "hub")
	assert.Contains(t, body, "relay")
	assert.EqualValues(t, 0, body["websocket_clients"])

	telemetry, ok := body["influxdb"].(map[string]any)
	require.True(t, ok, "influxdb stats missing")
	assert.EqualValues(t, 12, telemetry["points"])
	assert.EqualValues(t, 4, telemetry["filtered"])
}

func TestEntities(t *testing.T) {
	env := newTestEnv(t, true)
	env.apply("light.porch", "on")
	env.apply("light.hall", "off")
	env.apply("sensor.outdoor_temp", 12.5)

	var list struct {
		Entities []entity.State `json:"entities"`
		Count    int            `json:"count"`
	}
	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/entities", &list))
	assert.Equal(t, 3, list.Count)

	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/entities?domain=light", &list))
	assert.Equal(t, 2, list.Count)
	for _, st := range list.Entities {
		assert.Equal(t, "light", st.Domain())
	}

	var one entity.State
	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/entities/sensor.outdoor_temp", &one))
	assert.Equal(t, 12.5, one.Value)
	assert.Equal(t, "sensor.outdoor_temp", one.Attributes["friendly_name"])

	var apiErr Error
	assert.Equal(t, http.StatusNotFound, env.getJSON(t, "/api/v1/entities/light.garage", &apiErr))
	assert.Equal(t, ErrCodeNotFound, apiErr.Code)

	assert.Equal(t, http.StatusBadRequest, env.getJSON(t, "/api/v1/entities/nodot", &apiErr))
	assert.Equal(t, ErrCodeBadRequest, apiErr.Code)
}

func TestEntityHistory(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	for _, v := range []string{"off", "on", "off"} {
		require.NoError(t, env.history.Record(ctx, env.apply("light.porch", v)))
	}

	var body struct {
		History []entity.HistoryEntry `json:"history"`
		Count   int                   `json:"count"`
	}
	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/entities/light.porch/history?limit=2", &body))
	assert.Equal(t, 2, body.Count)

	var apiErr Error
	assert.Equal(t, http.StatusBadRequest, env.getJSON(t, "/api/v1/entities/light.porch/history?limit=x", &apiErr))
}

func TestEntityHistory_Disabled(t *testing.T) {
	store := entity.NewStore()
	srv, err := New(Deps{Logger: logging.Default(), Store: store})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entities/light.porch/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSchedulerTasks(t *testing.T) {
	env := newTestEnv(t, true)

	var body struct {
		Tasks []scheduler.TaskInfo `json:"tasks"`
		Count int                  `json:"count"`
	}
	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/scheduler/tasks", &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "porch lights", body.Tasks[0].Name)
}

func TestCalls(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	require.NoError(t, env.calls.Record(ctx, &audit.ServiceCall{
		Domain: "light", Service: "turn_on", EntityID: "light.porch", Origin: "scheduler", Success: true,
	}))
	require.NoError(t, env.calls.Record(ctx, &audit.ServiceCall{
		Domain: "switch", Service: "turn_off", EntityID: "switch.pump", Origin: "mqtt", Error: "boom",
	}))

	var res audit.ListResult
	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/calls", &res))
	assert.Equal(t, 2, res.Total)

	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/calls?failed=true", &res))
	require.Len(t, res.Calls, 1)
	assert.Equal(t, "switch.pump", res.Calls[0].EntityID)

	require.Equal(t, http.StatusOK, env.getJSON(t, "/api/v1/calls?domain=light&origin=scheduler", &res))
	assert.Len(t, res.Calls, 1)

	var apiErr Error
	assert.Equal(t, http.StatusBadRequest, env.getJSON(t, "/api/v1/calls?offset=-1", &apiErr))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, true)

	req, err := http.NewRequest(http.MethodGet, env.http.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(env.http.URL + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 16)
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocket_StateChanges(t *testing.T) {
	env := newTestEnv(t, true)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type: WSTypeSubscribe, ID: "1",
		Payload: WSSubscribePayload{Channels: []string{"entity:light.porch"}},
	}))
	resp := readWS(t, conn)
	require.Equal(t, WSTypeResponse, resp.Type)
	assert.Equal(t, "1", resp.ID)

	env.apply("light.hall", "on")
	env.apply("light.porch", "on")

	msg := readWS(t, conn)
	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, ChannelStateChanged, msg.EventType)
	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "light.porch", payload["entity_id"])
	assert.Equal(t, "on", payload["value"])
}

func TestWebSocket_AllChannelAndSnapshot(t *testing.T) {
	env := newTestEnv(t, true)
	env.apply("light.porch", "off")
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypeSnapshot, ID: "s"}))
	snap := readWS(t, conn)
	require.Equal(t, WSTypeResponse, snap.Type)
	entities := snap.Payload.(map[string]any)["entities"].([]any)
	assert.Len(t, entities, 1)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type: WSTypeSubscribe, ID: "2",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}))
	readWS(t, conn)

	env.apply("sensor.outdoor_temp", 3.0)
	msg := readWS(t, conn)
	assert.Equal(t, "sensor.outdoor_temp", msg.Payload.(map[string]any)["entity_id"])
}

func TestWebSocket_Errors(t *testing.T) {
	env := newTestEnv(t, true)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "bogus", ID: "3"}))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type: WSTypeSubscribe, ID: "4",
		Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
	}))
	assert.Equal(t, WSTypeError, readWS(t, conn).Type)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "5"}))
	pong := readWS(t, conn)
	assert.Equal(t, WSTypePong, pong.Type)
	assert.Equal(t, "5", pong.ID)
}

func TestStartAndClose(t *testing.T) {
	store := entity.NewStore()
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Logger: logging.Default(),
		Store:  store,
	})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Close())
}
