package hass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketPath is the hub's realtime endpoint.
const WebsocketPath = "/api/websocket"

// Transport is a framed duplex connection. ReadMessage is only ever called
// from one goroutine; WriteMessage may be called concurrently.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

// DialOptions configures Dial.
type DialOptions struct {
	Host    string
	Port    int
	Secure  bool
	Timeout time.Duration
}

// URL returns the websocket URL for the options.
func (o DialOptions) URL() string {
	scheme := "ws"
	if o.Secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:   WebsocketPath,
	}
	return u.String()
}

// WSTransport is a Transport over a gorilla websocket connection.
type WSTransport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial opens the hub websocket.
//
// Returns:
//   - *WSTransport: Open transport
//   - error: Wraps ErrConnectionRefused if the handshake fails
func Dial(ctx context.Context, opts DialOptions) (*WSTransport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: opts.Timeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, opts.URL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake body is not used
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionRefused, opts.URL(), err)
	}
	return &WSTransport{conn: conn}, nil
}

// ReadMessage blocks until one frame arrives. The context deadline, if any,
// bounds the read; cancellation without a deadline unblocks it by closing
// the connection.
func (t *WSTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(dl); err != nil {
			return nil, err
		}
	} else {
		t.conn.SetReadDeadline(time.Time{}) //nolint:errcheck // clearing a deadline cannot fail meaningfully
	}

	stop := context.AfterFunc(ctx, func() { t.Close() }) //nolint:errcheck // close error surfaces via the read
	defer stop()

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage sends one text frame. Writes are serialized.
func (t *WSTransport) WriteMessage(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	dl, ok := ctx.Deadline()
	if !ok {
		dl = time.Now().Add(10 * time.Second)
	}
	if err := t.conn.SetWriteDeadline(dl); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) //nolint:errcheck // best effort
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// IsClosedError reports whether err signals a normally closed connection.
func IsClosedError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
