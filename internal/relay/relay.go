package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/event"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
)

const defaultBuffer = 1024

// ErrInvalidCommand is returned for command messages that cannot be mapped to
// a service call.
var ErrInvalidCommand = errors.New("relay: invalid command")

// Logger defines the logging interface used by the relay.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatePublisher publishes retained state messages (mqtt.Client).
type StatePublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// EventPublisher publishes non-retained event messages (mqtt.Client).
type EventPublisher interface {
	PublishEvent(topic string, payload []byte) error
}

// EventSource registers named event handlers (event.Registry, event.CustomEvents).
type EventSource interface {
	Subscribe(eventType, name string, h event.Handler)
}

// CommandSource delivers command messages (mqtt.Client).
type CommandSource interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// MetricWriter writes numeric telemetry (influxdb.Client).
type MetricWriter interface {
	WriteEntityState(entityID string, value any, attributes map[string]any, ts time.Time) bool
}

// HistoryRecorder appends states to the history store (entity.SQLiteHistory).
type HistoryRecorder interface {
	Record(ctx context.Context, st entity.State) error
}

// CallRecorder stores service calls (audit.SQLiteRepository).
type CallRecorder interface {
	Record(ctx context.Context, call *audit.ServiceCall) error
}

// Options wires the relay's sinks. Nil sinks are skipped.
type Options struct {
	Publisher StatePublisher
	Events    EventPublisher
	Metrics   MetricWriter
	History   HistoryRecorder
	Calls     CallRecorder
	// Caller executes inbound commands.
	Caller entity.ServiceCaller
	// Buffer is the number of state changes queued before new ones are dropped.
	Buffer int
	// QoS for the command subscription.
	QoS byte
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Relayed        uint64 `json:"relayed"`
	Dropped        uint64 `json:"dropped"`
	PublishErrors  uint64 `json:"publish_errors"`
	HistoryErrors  uint64 `json:"history_errors"`
	MetricsWritten uint64 `json:"metrics_written"`
	Commands       uint64 `json:"commands"`
	CommandErrors  uint64 `json:"command_errors"`
	CallsRecorded  uint64 `json:"calls_recorded"`
	Events         uint64 `json:"events"`
}

// Relay fans entity state changes out to the configured sinks.
type Relay struct {
	opts   Options
	queue  chan entity.State
	logger Logger
	topics mqtt.Topics

	relayed        atomic.Uint64
	dropped        atomic.Uint64
	publishErrors  atomic.Uint64
	historyErrors  atomic.Uint64
	metricsWritten atomic.Uint64
	commands       atomic.Uint64
	commandErrors  atomic.Uint64
	callsRecorded  atomic.Uint64
	events         atomic.Uint64
}

// New creates a relay.
func New(opts Options) *Relay {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	return &Relay{
		opts:   opts,
		queue:  make(chan entity.State, opts.Buffer),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (r *Relay) SetLogger(logger Logger) {
	r.logger = logger
}

// Attach observes every change applied to store.
func (r *Relay) Attach(store *entity.Store) {
	store.OnAnyChange(func(_, updated entity.State) {
		r.Enqueue(updated)
	})
}

// Enqueue queues a state for relaying without blocking. It returns false
// when the queue is full and the state was dropped.
func (r *Relay) Enqueue(st entity.State) bool {
	select {
	case r.queue <- st:
		return true
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("relay queue full, dropping state changes", "entity_id", st.EntityID)
		}
		return false
	}
}

// Run relays queued states until ctx ends, then drains what is left.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case st := <-r.queue:
			r.relay(ctx, st)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case st := <-r.queue:
			r.relay(ctx, st)
		default:
			return
		}
	}
}

// statePayload is the JSON body of a retained state message.
type statePayload struct {
	EntityID    string         `json:"entity_id"`
	Value       any            `json:"value"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged *time.Time     `json:"last_changed,omitempty"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *Relay) relay(ctx context.Context, st entity.State) {
	r.relayed.Add(1)

	if r.opts.Publisher != nil {
		payload, err := json.Marshal(statePayload{
			EntityID:    st.EntityID,
			Value:       st.Value,
			Attributes:  st.Attributes,
			LastChanged: timePtr(st.LastChanged),
			LastUpdated: timePtr(st.LastUpdated),
			UserID:      st.UserID,
		})
		if err == nil {
			err = r.opts.Publisher.PublishRetained(r.topics.EntityState(st.EntityID), payload)
		}
		if err != nil {
			r.publishErrors.Add(1)
			r.logger.Warn("state publish failed", "entity_id", st.EntityID, "error", err)
		}
	}

	if r.opts.Metrics != nil {
		ts := st.LastUpdated
		if ts.IsZero() {
			ts = time.Now()
		}
		if r.opts.Metrics.WriteEntityState(st.EntityID, st.Value, st.Attributes, ts) {
			r.metricsWritten.Add(1)
		}
	}

	if r.opts.History != nil {
		if err := r.opts.History.Record(ctx, st); err != nil {
			r.historyErrors.Add(1)
			r.logger.Warn("state history write failed", "entity_id", st.EntityID, "error", err)
		}
	}
}

// ForwardEvents publishes every eventType event seen by src to its event
// topic. It does nothing without an EventPublisher.
func (r *Relay) ForwardEvents(src EventSource, eventType string) {
	if r.opts.Events == nil {
		return
	}
	src.Subscribe(eventType, "relay", func(_ context.Context, ev event.Event) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding %s event: %w", ev.Type, err)
		}
		if err := r.opts.Events.PublishEvent(r.topics.Event(ev.Type), payload); err != nil {
			r.publishErrors.Add(1)
			return fmt.Errorf("publishing %s event: %w", ev.Type, err)
		}
		r.events.Add(1)
		return nil
	})
}

// BindCommands subscribes to every service command topic on src.
func (r *Relay) BindCommands(src CommandSource) error {
	if r.opts.Caller == nil {
		return fmt.Errorf("binding commands: %w", entity.ErrNoServiceCaller)
	}
	return src.Subscribe(r.topics.AllServiceCommands(), r.opts.QoS, r.HandleCommand)
}

// HandleCommand turns one command message into a service call. The payload
// is an optional JSON object; its entity_id key selects the entity and the
// remaining keys become service data.
func (r *Relay) HandleCommand(topic string, payload []byte) error {
	r.commands.Add(1)
	err := r.handleCommand(topic, payload)
	if err != nil {
		r.commandErrors.Add(1)
	}
	return err
}

func (r *Relay) handleCommand(topic string, payload []byte) error {
	domain, service, ok := mqtt.ParseServiceCommand(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrInvalidCommand, topic)
	}

	data := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("%w: payload for %s.%s: %w", ErrInvalidCommand, domain, service, err)
		}
		if data == nil {
			data = map[string]any{}
		}
	}

	entityID, _ := data["entity_id"].(string)
	delete(data, "entity_id")
	if entityID != "" {
		if err := entity.ValidateID(entityID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		}
	}

	ctx, cancel := context.WithTimeout(hass.WithOrigin(context.Background(), hass.OriginMQTT), 30*time.Second)
	defer cancel()

	r.logger.Info("command received", "domain", domain, "service", service, "entity_id", entityID)
	return r.opts.Caller.CallService(ctx, domain, service, entityID, data)
}

// RecordCall stores a completed service call. It is a hass.CallObserver.
func (r *Relay) RecordCall(rec hass.CallRecord) {
	if r.opts.Calls == nil {
		return
	}
	call := &audit.ServiceCall{
		Domain:     rec.Domain,
		Service:    rec.Service,
		EntityID:   rec.EntityID,
		Origin:     rec.Origin,
		Success:    rec.Err == nil,
		DurationMS: rec.Duration.Milliseconds(),
		CalledAt:   rec.At,
	}
	if rec.Err != nil {
		call.Error = rec.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.opts.Calls.Record(ctx, call); err != nil {
		r.logger.Warn("recording service call failed", "domain", rec.Domain, "service", rec.Service, "error", err)
		return
	}
	r.callsRecorded.Add(1)
}

// Stats returns a snapshot of relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Relayed:        r.relayed.Load(),
		Dropped:        r.dropped.Load(),
		PublishErrors:  r.publishErrors.Load(),
		HistoryErrors:  r.historyErrors.Load(),
		MetricsWritten: r.metricsWritten.Load(),
		Commands:       r.commands.Load(),
		CommandErrors:  r.commandErrors.Load(),
		CallsRecorded:  r.callsRecorded.Load(),
		Events:         r.events.Load(),
	}
}
