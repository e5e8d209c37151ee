package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
)

// Default timeouts and batching for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 100
	defaultFlushSeconds   = 10

	// millisPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisPerSecond = 1000
)

// Stats is a snapshot of telemetry counters.
type Stats struct {
	Connected   bool      `json:"connected"`
	Points      uint64    `json:"points"`
	Filtered    uint64    `json:"filtered"`
	NotNumeric  uint64    `json:"not_numeric"`
	WriteErrors uint64    `json:"write_errors"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitzero"`
}

// Client writes entity telemetry through the InfluxDB v2 non-blocking
// write API.
//
// Points are batched by the underlying client and flushed on size or
// interval. Only entities whose domain passes the configured filter are
// written.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write operations are non-blocking and batched.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig
	domains  domainSet

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)

	points      atomic.Uint64
	filtered    atomic.Uint64
	notNumeric  atomic.Uint64
	writeErrors atomic.Uint64
	lastErr     atomic.Pointer[writeFailure]
}

type writeFailure struct {
	msg string
	at  time.Time
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the client with token authentication and batching options
//  2. Verifies connectivity with a ping
//  3. Configures the non-blocking write API
//  4. Starts forwarding async write errors to the error callback
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled when not enabled, ErrConnectionFailed if the ping fails
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := cfg.FlushInterval
	if flushSeconds <= 0 {
		flushSeconds = defaultFlushSeconds
	}

	// #nosec G115 -- both values are positive here
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushSeconds)*millisPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := newClient(cfg, client.WriteAPI(cfg.Org, cfg.Bucket))
	c.client = client
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// newClient builds a connected Client around writeAPI.
func newClient(cfg config.InfluxDBConfig, writeAPI api.WriteAPI) *Client {
	return &Client{
		writeAPI:  writeAPI,
		cfg:       cfg,
		domains:   newDomainSet(cfg.Domains),
		connected: true,
	}
}

// forwardErrors counts async write failures and passes them to the callback.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.recordError(err)
	}
}

func (c *Client) recordError(err error) {
	c.writeErrors.Add(1)
	c.lastErr.Store(&writeFailure{msg: err.Error(), at: time.Now().UTC()})

	c.mu.RLock()
	callback := c.onError
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close gracefully shuts down the InfluxDB connection.
//
// It performs:
//  1. Flushes any pending writes
//  2. Closes the underlying client
//
// Returns:
//   - error: nil (InfluxDB client Close doesn't return errors)
func (c *Client) Close() error {
	if c == nil || c.writeAPI == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// HealthCheck verifies the InfluxDB connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. Use HealthCheck for an active
// ping.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets a callback invoked for each async write error.
//
// Since writes are non-blocking, errors are delivered asynchronously.
// Failures are counted in Stats whether or not a callback is set.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Stats returns a snapshot of telemetry counters.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	st := Stats{
		Connected:   c.IsConnected(),
		Points:      c.points.Load(),
		Filtered:    c.filtered.Load(),
		NotNumeric:  c.notNumeric.Load(),
		WriteErrors: c.writeErrors.Load(),
	}
	if f := c.lastErr.Load(); f != nil {
		st.LastError = f.msg
		st.LastErrorAt = f.at
	}
	return st
}
