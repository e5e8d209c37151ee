package hass

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/event"
)

// DefaultReconnectDelay is used when NewClient is given no delay.
const DefaultReconnectDelay = 5 * time.Second

// ReadyFunc is called after each successful session start.
type ReadyFunc func(report *StartupReport)

// Client keeps a session running, starting a new one after the connection
// drops. A rejected token stops it for good.
//
// Client satisfies entity.ServiceCaller, so actuators and the scheduler can
// call services without knowing which session is current.
type Client struct {
	opts           Options
	store          *entity.Store
	bus            *event.Bus
	reconnectDelay time.Duration
	logger         Logger

	current atomic.Pointer[Session]

	mu       sync.Mutex
	onReady  []ReadyFunc
	sessions uint64
}

var _ entity.ServiceCaller = (*Client)(nil)

// NewClient creates a client. reconnectDelay ≤ 0 selects DefaultReconnectDelay.
func NewClient(opts Options, store *entity.Store, bus *event.Bus, reconnectDelay time.Duration) *Client {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Client{
		opts:           opts,
		store:          store,
		bus:            bus,
		reconnectDelay: reconnectDelay,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// OnReady registers a callback for each successful start.
func (c *Client) OnReady(fn ReadyFunc) {
	c.mu.Lock()
	c.onReady = append(c.onReady, fn)
	c.mu.Unlock()
}

// Run connects and reconnects until ctx ends.
//
// Returns:
//   - error: nil when ctx ends, ErrAuthRejected if the hub refuses the token
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthRejected) {
			return err
		}
		c.logger.Warn("hub session ended, reconnecting",
			"error", err, "delay", c.reconnectDelay.String())

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) runSession(ctx context.Context) error {
	s := NewSession(c.opts, c.store, c.bus)
	s.SetLogger(c.logger)

	report, err := s.Start(ctx)
	if err != nil {
		return err
	}
	if derr := report.Err(); derr != nil {
		c.logger.Warn("hub session started degraded", "error", derr)
	}

	c.current.Store(s)
	c.mu.Lock()
	c.sessions++
	ready := append([]ReadyFunc(nil), c.onReady...)
	c.mu.Unlock()
	for _, fn := range ready {
		fn(report)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() }) //nolint:errcheck // shutdown
	defer stop()

	err = s.Wait()
	c.current.CompareAndSwap(s, nil)
	return err
}

// Session returns the running session, or nil.
func (c *Client) Session() *Session {
	return c.current.Load()
}

// Connected reports whether a session is running.
func (c *Client) Connected() bool {
	return c.current.Load() != nil
}

// Sessions returns how many sessions have started successfully.
func (c *Client) Sessions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions
}

// CallService calls a service on the current session.
func (c *Client) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error {
	s := c.current.Load()
	if s == nil {
		return ErrNotConnected
	}
	return s.CallService(ctx, domain, service, entityID, data)
}

// Stats returns the current session's counters, zero when disconnected.
func (c *Client) Stats() SessionStats {
	if s := c.current.Load(); s != nil {
		return s.Stats()
	}
	return SessionStats{}
}
