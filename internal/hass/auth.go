package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// AuthState is the authenticator's position in the handshake.
type AuthState int

// Handshake states.
const (
	Unauthenticated AuthState = iota
	AwaitingAck
	Authenticated
	Rejected
)

// String returns the state name.
func (s AuthState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingAck:
		return "awaiting_ack"
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("auth_state(%d)", int(s))
	}
}

// Authenticator runs the token handshake directly on the transport, before
// the dispatcher owns reads.
type Authenticator struct {
	codec     *Codec
	transport Transport
	token     string
	logger    Logger

	mu         sync.Mutex
	state      AuthState
	hubVersion string
}

// NewAuthenticator creates an authenticator for one connection.
func NewAuthenticator(codec *Codec, transport Transport, token string) *Authenticator {
	return &Authenticator{
		codec:     codec,
		transport: transport,
		token:     token,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger.
func (a *Authenticator) SetLogger(logger Logger) {
	a.logger = logger
}

// State returns the current handshake state.
func (a *Authenticator) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// HubVersion returns the version the hub announced, if any.
func (a *Authenticator) HubVersion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hubVersion
}

func (a *Authenticator) setState(s AuthState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Authenticate waits for auth_required, sends the token and waits for the
// verdict. It does not retry.
//
// Returns:
//   - error: nil on auth_ok, ErrAuthRejected on auth_invalid, ErrAuthFailed
//     for any other frame or a broken connection
func (a *Authenticator) Authenticate(ctx context.Context) error {
	frame, err := a.readAuthFrame(ctx)
	if err != nil {
		return err
	}
	if frame.Type == TypeAuthOK {
		// Some hubs skip the challenge for trusted networks.
		a.accept(frame)
		return nil
	}
	if frame.Type != TypeAuthRequired {
		return fmt.Errorf("%w: expected %s, got %s", ErrAuthFailed, TypeAuthRequired, frame.Type)
	}
	a.recordVersion(frame)

	data, err := a.codec.Encode(TypeAuth, &AuthMessage{Type: TypeAuth, AccessToken: a.token})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if err := a.transport.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("%w: sending token: %w", ErrAuthFailed, err)
	}
	a.setState(AwaitingAck)

	frame, err = a.readAuthFrame(ctx)
	if err != nil {
		return err
	}
	switch frame.Type {
	case TypeAuthOK:
		a.accept(frame)
		return nil
	case TypeAuthInvalid:
		a.setState(Rejected)
		a.logger.Error("hub rejected access token", "message", frame.Message)
		if frame.Message != "" {
			return fmt.Errorf("%w: %s", ErrAuthRejected, frame.Message)
		}
		return ErrAuthRejected
	default:
		return fmt.Errorf("%w: unexpected %s frame", ErrAuthFailed, frame.Type)
	}
}

func (a *Authenticator) accept(frame *AuthFrame) {
	a.recordVersion(frame)
	a.setState(Authenticated)
	a.logger.Info("authenticated with hub", "hub_version", a.HubVersion())
}

func (a *Authenticator) recordVersion(frame *AuthFrame) {
	if frame.HAVersion == "" {
		return
	}
	a.mu.Lock()
	a.hubVersion = frame.HAVersion
	a.mu.Unlock()
}

func (a *Authenticator) readAuthFrame(ctx context.Context) (*AuthFrame, error) {
	raw, err := a.transport.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	frame := &AuthFrame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrAuthFailed, ErrDecode, err)
	}
	return frame, nil
}
