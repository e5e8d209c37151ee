package hass

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_DecodeFrame(t *testing.T) {
	c := NewCodec()

	tag, v, err := c.DecodeFrame([]byte(`{"id":3,"type":"result","success":true,"result":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, TypeResult, tag)
	res, ok := v.(*ResultResponse)
	require.True(t, ok)
	assert.Equal(t, int64(3), res.ID)
	assert.JSONEq(t, `[1,2]`, string(res.Result))

	tag, v, err = c.DecodeFrame([]byte(`{"id":1,"type":"event","event":{"event_type":"state_changed","data":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, tag)
	assert.Equal(t, EventStateChanged, v.(*EventResponse).Event.EventType)
}

func TestCodec_DecodeFrameErrors(t *testing.T) {
	c := NewCodec()
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"type":`},
		{"missing type", `{"id":1}`},
		{"unknown type", `{"type":"pong","id":1}`},
		{"wrong field type", `{"type":"result","id":"seven"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.DecodeFrame([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestCodec_EventData(t *testing.T) {
	c := NewCodec()

	v, known, err := c.DecodeEventData(EventStateChanged,
		json.RawMessage(`{"entity_id":"light.a","new_state":null}`))
	require.NoError(t, err)
	require.True(t, known)
	sc := v.(*StateChangedData)
	assert.Equal(t, "light.a", sc.EntityID)
	assert.True(t, sc.Removed())

	_, known, err = c.DecodeEventData("call_service", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.False(t, known)

	type doorbell struct {
		Ring int `json:"ring"`
	}
	c.RegisterEventData("doorbell", decodeAs[doorbell]())
	v, known, err = c.DecodeEventData("doorbell", json.RawMessage(`{"ring":2}`))
	require.NoError(t, err)
	require.True(t, known)
	assert.Equal(t, 2, v.(*doorbell).Ring)
}

func TestCodec_EncodeUnknown(t *testing.T) {
	_, err := NewCodec().Encode("ping", struct{}{})
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestNewCallService_EntityIDAlwaysPresent(t *testing.T) {
	req := NewCallService("light", "turn_on", "light.kitchen", map[string]any{"brightness": 120, "entity_id": "light.other"})
	assert.Equal(t, "light.kitchen", req.ServiceData["entity_id"])
	assert.Equal(t, 120, req.ServiceData["brightness"])

	data, err := NewCodec().Encode(TypeCallService, req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":0,"type":"call_service","domain":"light","service":"turn_on",
		"service_data":{"entity_id":"light.kitchen","brightness":120}}`, string(data))
}
