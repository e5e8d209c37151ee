package hass

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_Accepted(t *testing.T) {
	hub := startHub(t, nil)
	a := NewAuthenticator(NewCodec(), hub.tr, testToken)

	require.NoError(t, a.Authenticate(context.Background()))
	assert.Equal(t, Authenticated, a.State())
	assert.Equal(t, "2024.1.0", a.HubVersion())
}

func TestAuthenticator_Rejected(t *testing.T) {
	hub := startHub(t, nil)
	a := NewAuthenticator(NewCodec(), hub.tr, "wrong")

	err := a.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, Rejected, a.State())
}

func TestAuthenticator_UnexpectedFrame(t *testing.T) {
	tr := newFakeTransport()
	tr.in <- []byte(`{"type":"result","id":1,"success":true}`)
	a := NewAuthenticator(NewCodec(), tr, testToken)

	err := a.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, Unauthenticated, a.State())
}

func TestAuthenticator_ConnectionClosed(t *testing.T) {
	tr := newFakeTransport()
	tr.in <- []byte(`{"type":"auth_required"}`)
	a := NewAuthenticator(NewCodec(), tr, testToken)

	go func() {
		<-tr.out
		tr.Close()
	}()
	err := a.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, AwaitingAck, a.State())
}
