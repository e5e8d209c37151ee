package hass

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/event"
)

// DialFunc opens a transport. Tests substitute an in-memory pipe.
type DialFunc func(ctx context.Context) (Transport, error)

// CallRecord describes one completed service call.
type CallRecord struct {
	Domain   string
	Service  string
	EntityID string
	Origin   string
	Err      error
	Duration time.Duration
	At       time.Time
}

// CallObserver is notified after every service call. It runs on the
// caller's goroutine.
type CallObserver func(rec CallRecord)

// Options configures a Session.
type Options struct {
	// Name identifies this client in logs.
	Name string
	// Dial opens the transport. Nil dials DialOpts with Dial.
	Dial     DialFunc
	DialOpts DialOptions
	// AccessToken is the hub's long-lived access token.
	AccessToken string
	// StartStateStream subscribes to state_changed on start.
	StartStateStream bool
	// ConnectTimeout bounds dial plus authentication.
	ConnectTimeout time.Duration
	// RequestTimeout bounds each correlated request made by the session.
	RequestTimeout time.Duration
	// BacklogWarning is the queued-event count that triggers a warning.
	BacklogWarning int
	// OnCall is invoked after every CallService.
	OnCall CallObserver
	// OnUnmatched receives results that no requester awaits.
	OnUnmatched UnmatchedFunc
}

// StartupReport describes how far the boot sequence got.
type StartupReport struct {
	HubVersion     string
	Subscribed     bool
	SubscriptionID int64
	// Load is never nil; it is empty when the initial load failed.
	Load     *LoadReport
	Degraded []error
}

// Err joins the degraded-start errors, or returns nil.
func (r *StartupReport) Err() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Degraded...)
}

// SessionStats is a snapshot of session counters.
type SessionStats struct {
	Correlator CorrelatorStats `json:"correlator"`
	Dispatcher DispatcherStats `json:"dispatcher"`
}

// Session is the context object for one hub connection. It owns the codec,
// the correlator and the dispatcher, and holds no global state.
//
// A Session is started once. After Wait returns it cannot be restarted;
// create a new one to reconnect.
type Session struct {
	opts   Options
	codec  *Codec
	store  *entity.Store
	bus    *event.Bus
	logger Logger

	mu         sync.Mutex
	started    bool
	transport  Transport
	corr       *Correlator
	dispatcher *Dispatcher
	cancel     context.CancelFunc
	done       chan struct{}
	runErr     error
}

// NewSession creates an unstarted session over store and bus.
func NewSession(opts Options, store *entity.Store, bus *event.Bus) *Session {
	return &Session{
		opts:   opts,
		codec:  NewCodec(),
		store:  store,
		bus:    bus,
		logger: noopLogger{},
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for the session and the components it creates.
func (s *Session) SetLogger(logger Logger) {
	s.logger = logger
}

// Codec returns the session's codec for registering extra event decoders.
func (s *Session) Codec() *Codec {
	return s.codec
}

// Start runs the boot sequence:
//
//	dial → authenticate → start dispatcher → subscribe state_changed
//	     → get_states → open the event gate
//
// Returns:
//   - *StartupReport: What succeeded; Degraded lists non-fatal failures
//   - error: ErrConnectionRefused, ErrAuthRejected or ErrAuthFailed. The
//     transport is closed and the session unusable in that case.
func (s *Session) Start(ctx context.Context) (*StartupReport, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("hass: session already started")
	}
	s.started = true
	s.mu.Unlock()

	connectCtx, cancelConnect := s.withTimeout(ctx, s.opts.ConnectTimeout)
	defer cancelConnect()

	tr, err := s.dial(connectCtx)
	if err != nil {
		s.finish(err)
		return nil, err
	}

	auth := NewAuthenticator(s.codec, tr, s.opts.AccessToken)
	auth.SetLogger(s.logger)
	if err := auth.Authenticate(connectCtx); err != nil {
		tr.Close() //nolint:errcheck // already failing
		s.finish(err)
		return nil, err
	}

	corr := NewCorrelator(s.codec, tr)
	corr.SetLogger(s.logger)
	if s.opts.OnUnmatched != nil {
		corr.OnUnmatched(s.opts.OnUnmatched)
	}
	disp := NewDispatcher(s.codec, tr, corr, s.store, s.bus)
	disp.SetLogger(s.logger)
	disp.SetBacklogWarning(s.opts.BacklogWarning)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.transport = tr
	s.corr = corr
	s.dispatcher = disp
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		err := disp.Run(runCtx)
		if cerr := tr.Close(); cerr != nil {
			s.logger.Debug("closing transport", "error", cerr)
		}
		s.finish(err)
	}()

	report := &StartupReport{HubVersion: auth.HubVersion()}

	if s.opts.StartStateStream {
		sub := NewSubscriber(corr)
		sub.SetLogger(s.logger)
		subCtx, cancelSub := s.withTimeout(ctx, s.opts.RequestTimeout)
		id, err := sub.Subscribe(subCtx, EventStateChanged)
		cancelSub()
		if err != nil {
			report.Degraded = append(report.Degraded, err)
		} else {
			report.Subscribed = true
			report.SubscriptionID = id
		}
	}

	loader := NewStateLoader(corr, s.store)
	loader.SetLogger(s.logger)
	loadCtx, cancelLoad := s.withTimeout(ctx, s.opts.RequestTimeout)
	load, err := loader.Load(loadCtx)
	cancelLoad()
	if err != nil {
		report.Degraded = append(report.Degraded, err)
	}
	if load == nil {
		load = &LoadReport{}
	}
	report.Load = load

	disp.Open()

	s.logger.Info("hub session started",
		"name", s.opts.Name,
		"hub_version", report.HubVersion,
		"subscribed", report.Subscribed,
		"degraded", len(report.Degraded),
	)
	return report, nil
}

func (s *Session) dial(ctx context.Context) (Transport, error) {
	if s.opts.Dial != nil {
		tr, err := s.opts.Dial(ctx)
		if err != nil {
			if errors.Is(err, ErrConnectionRefused) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrConnectionRefused, err)
		}
		return tr, nil
	}
	return Dial(ctx, s.opts.DialOpts)
}

func (s *Session) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// finish records the terminal error and releases Wait. Only the first call
// has any effect.
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.runErr = err
	close(s.done)
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends and returns why.
func (s *Session) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Close stops the dispatcher and closes the socket, then waits for the
// session to end.
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	tr := s.transport
	s.mu.Unlock()

	if cancel == nil {
		s.finish(context.Canceled)
		return nil
	}
	cancel()
	var err error
	if tr != nil {
		err = tr.Close()
	}
	<-s.done
	return err
}

// Request sends a correlated request over the session.
func (s *Session) Request(ctx context.Context, req Request, out any) (*ResultResponse, error) {
	s.mu.Lock()
	corr := s.corr
	s.mu.Unlock()
	if corr == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := s.withTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	return corr.Request(ctx, req, out)
}

// CallService invokes domain.service for entityID. data is merged into
// service_data after entity_id.
func (s *Session) CallService(ctx context.Context, domain, service, entityID string, data map[string]any) error {
	start := time.Now()
	_, err := s.Request(ctx, NewCallService(domain, service, entityID, data), nil)

	if err != nil {
		s.logger.Warn("service call failed",
			"domain", domain, "service", service, "entity_id", entityID, "error", err)
	} else {
		s.logger.Debug("service called", "domain", domain, "service", service, "entity_id", entityID)
	}
	if s.opts.OnCall != nil {
		s.opts.OnCall(CallRecord{
			Domain:   domain,
			Service:  service,
			EntityID: entityID,
			Origin:   OriginFrom(ctx),
			Err:      err,
			Duration: time.Since(start),
			At:       start,
		})
	}
	if err != nil {
		return fmt.Errorf("calling %s.%s for %s: %w", domain, service, entityID, err)
	}
	return nil
}

// Stats returns a snapshot of the session's counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	corr, disp := s.corr, s.dispatcher
	s.mu.Unlock()

	var stats SessionStats
	if corr != nil {
		stats.Correlator = corr.Stats()
	}
	if disp != nil {
		stats.Dispatcher = disp.Stats()
	}
	return stats
}
