package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopHandler(context.Context, Event) error { return nil }

func TestRegistry_NamedOverwrite(t *testing.T) {
	r := NewRegistry()
	var hit string

	r.Subscribe("state_changed", "lights", func(context.Context, Event) error { hit = "first"; return nil })
	r.Subscribe("state_changed", "lights", func(context.Context, Event) error { hit = "second"; return nil })

	regs := r.Handlers("state_changed")
	require.Len(t, regs, 1)
	require.NoError(t, regs[0].Handler(context.Background(), Event{}))
	assert.Equal(t, "second", hit)
}

func TestRegistry_OverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("x", "a", nopHandler)
	r.Subscribe("x", "b", nopHandler)
	r.Subscribe("x", "a", nopHandler)

	regs := r.Handlers("x")
	require.Len(t, regs, 2)
	assert.Equal(t, "a", regs[0].Name)
	assert.Equal(t, "b", regs[1].Name)
}

func TestRegistry_AnonymousAppends(t *testing.T) {
	r := NewRegistry()
	h1 := r.SubscribeAnonymous("x", nopHandler)
	h2 := r.SubscribeAnonymous("x", nopHandler)
	r.Subscribe("x", "", nopHandler)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 3, r.Count("x"))

	assert.True(t, r.Unsubscribe("x", h1))
	assert.False(t, r.Unsubscribe("x", h1))
	assert.Equal(t, 2, r.Count("x"))
}

func TestRegistry_UnsubscribeLastRemovesType(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("a", "one", nopHandler)
	r.Subscribe("b", "two", nopHandler)

	assert.Equal(t, []string{"a", "b"}, r.EventTypes())
	assert.True(t, r.Unsubscribe("a", "one"))
	assert.Equal(t, []string{"b"}, r.EventTypes())
}

func TestRegistry_HandlersSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("x", "a", nopHandler)

	regs := r.Handlers("x")
	r.Subscribe("x", "b", nopHandler)

	assert.Len(t, regs, 1, "snapshot must not see later registrations")
}

func TestEvent_Decode(t *testing.T) {
	ev := Event{Data: []byte(`{"entity_id":"light.kitchen"}`)}
	var data struct {
		EntityID string `json:"entity_id"`
	}
	require.NoError(t, ev.Decode(&data))
	assert.Equal(t, "light.kitchen", data.EntityID)
}
