package hass

import (
	"context"
	"fmt"
)

// Subscriber registers interest in hub events.
type Subscriber struct {
	corr   *Correlator
	logger Logger
}

// NewSubscriber creates a subscriber sending through corr.
func NewSubscriber(corr *Correlator) *Subscriber {
	return &Subscriber{corr: corr, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (s *Subscriber) SetLogger(logger Logger) {
	s.logger = logger
}

// Subscribe sends one subscribe_events request and waits for the result.
//
// Returns:
//   - int64: Subscription id (the request id) on success
//   - error: Wraps ErrDegradedStart on failure; the session keeps running
//     without live updates for that event type
func (s *Subscriber) Subscribe(ctx context.Context, eventType string) (int64, error) {
	req := NewSubscribeEvents(eventType)
	if _, err := s.corr.Request(ctx, req, nil); err != nil {
		s.logger.Error("event subscription failed", "event_type", eventType, "error", err)
		return 0, fmt.Errorf("%w: subscribe %s: %w", ErrDegradedStart, eventType, err)
	}
	s.logger.Info("subscribed to hub events", "event_type", eventType, "subscription", req.ID)
	return req.ID, nil
}
