package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// UnmatchedFunc receives result frames that no requester is waiting for.
type UnmatchedFunc func(resp *ResultResponse)

// CorrelatorStats is a snapshot of correlation counters.
type CorrelatorStats struct {
	Sent      uint64 `json:"sent"`
	Resolved  uint64 `json:"resolved"`
	Unmatched uint64 `json:"unmatched"`
	Pending   int    `json:"pending"`
}

type outcome struct {
	resp *ResultResponse
	err  error
}

type waiter struct {
	ch       chan outcome
	awaiting bool
}

// Correlator pairs outbound requests with their result frames by id.
//
// Ids are unique and strictly increasing for the lifetime of the correlator,
// which is one connection. Each pending id is resolved exactly once.
type Correlator struct {
	codec     *Codec
	transport Transport
	logger    Logger
	unmatched UnmatchedFunc

	lastID atomic.Int64

	mu      sync.Mutex
	waiters map[int64]*waiter
	failErr error

	sent       atomic.Uint64
	resolved   atomic.Uint64
	unmatchedN atomic.Uint64
}

// NewCorrelator creates a correlator writing through transport.
func NewCorrelator(codec *Codec, transport Transport) *Correlator {
	return &Correlator{
		codec:     codec,
		transport: transport,
		logger:    noopLogger{},
		waiters:   make(map[int64]*waiter),
	}
}

// SetLogger sets the logger.
func (c *Correlator) SetLogger(logger Logger) {
	c.logger = logger
}

// OnUnmatched sets the handler for results with no waiter. Set before the
// dispatcher starts.
func (c *Correlator) OnUnmatched(fn UnmatchedFunc) {
	c.unmatched = fn
}

// NextID returns the next request id.
func (c *Correlator) NextID() int64 {
	return c.lastID.Add(1)
}

// register creates a waiter for id before the request is sent, so a fast
// response cannot race past it.
func (c *Correlator) register(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failErr != nil {
		return fmt.Errorf("%w: %w", ErrCorrelation, c.failErr)
	}
	if _, exists := c.waiters[id]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateWaiter, id)
	}
	c.waiters[id] = &waiter{ch: make(chan outcome, 1)}
	return nil
}

func (c *Correlator) forget(id int64) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

// Send encodes and writes a request. The request must already carry its id.
func (c *Correlator) Send(ctx context.Context, req Request) error {
	data, err := c.codec.Encode(req.MessageType(), req)
	if err != nil {
		return err
	}
	if err := c.transport.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("sending %s %d: %w", req.MessageType(), req.RequestID(), err)
	}
	c.sent.Add(1)
	return nil
}

// Await blocks until the result for id arrives.
//
// Only one caller may wait on an id; a second Await returns
// ErrDuplicateWaiter immediately. If the connection fails first the error
// wraps ErrCorrelation. On context cancellation the waiter is dropped and a
// late result is treated as unmatched.
func (c *Correlator) Await(ctx context.Context, id int64) (*ResultResponse, error) {
	c.mu.Lock()
	if c.failErr != nil {
		err := c.failErr
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrCorrelation, err)
	}
	w, exists := c.waiters[id]
	if !exists {
		w = &waiter{ch: make(chan outcome, 1)}
		c.waiters[id] = w
	}
	if w.awaiting {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrDuplicateWaiter, id)
	}
	w.awaiting = true
	c.mu.Unlock()

	select {
	case out := <-w.ch:
		return out.resp, out.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Request sends req with a fresh id and waits for its result. When out is
// non-nil a successful result payload is decoded into it.
//
// Returns:
//   - *ResultResponse: The matching result frame
//   - error: *ResultError for success=false, ErrCorrelation if the
//     connection fails, ErrDecode if the payload does not fit out
func (c *Correlator) Request(ctx context.Context, req Request, out any) (*ResultResponse, error) {
	id := c.NextID()
	req.SetID(id)

	if err := c.register(id); err != nil {
		return nil, err
	}
	if err := c.Send(ctx, req); err != nil {
		c.forget(id)
		return nil, err
	}

	resp, err := c.Await(ctx, id)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		re := &ResultError{ID: id}
		if resp.Error != nil {
			re.Code = resp.Error.Code
			re.Message = resp.Error.Message
		}
		return resp, re
	}
	if out != nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return resp, fmt.Errorf("%w: result of %s %d: %w", ErrDecode, req.MessageType(), id, err)
		}
	}
	return resp, nil
}

// Resolve hands a result frame to its waiter. Results without a waiter,
// including duplicates, are logged and passed to the unmatched handler.
func (c *Correlator) Resolve(resp *ResultResponse) {
	c.mu.Lock()
	w, exists := c.waiters[resp.ID]
	if exists {
		delete(c.waiters, resp.ID)
	}
	c.mu.Unlock()

	if exists {
		c.resolved.Add(1)
		w.ch <- outcome{resp: resp}
		return
	}

	c.unmatchedN.Add(1)
	if resp.ID > 0 && resp.ID <= c.lastID.Load() {
		c.logger.Warn("late or duplicate result", "id", resp.ID, "success", resp.Success)
	} else {
		c.logger.Warn("result for unknown request", "id", resp.ID, "success", resp.Success)
	}
	if !resp.Success && resp.Error != nil {
		c.logger.Error("hub reported request failure",
			"id", resp.ID, "code", resp.Error.Code, "message", resp.Error.Message)
	}
	if c.unmatched != nil {
		c.unmatched(resp)
	}
}

// Fail wakes every waiter with an ErrCorrelation error and refuses new ones.
func (c *Correlator) Fail(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failErr != nil {
		return
	}
	if cause == nil {
		cause = ErrConnectionLost
	}
	c.failErr = cause
	for id, w := range c.waiters {
		w.ch <- outcome{err: fmt.Errorf("%w: request %d: %w", ErrCorrelation, id, cause)}
		delete(c.waiters, id)
	}
}

// Pending returns the number of unresolved requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Stats returns a snapshot of correlation counters.
func (c *Correlator) Stats() CorrelatorStats {
	return CorrelatorStats{
		Sent:      c.sent.Load(),
		Resolved:  c.resolved.Load(),
		Unmatched: c.unmatchedN.Load(),
		Pending:   c.Pending(),
	}
}
