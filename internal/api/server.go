package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// gracefulShutdownTimeout bounds in-flight requests during Close.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryReader returns recorded states (entity.SQLiteHistory).
type HistoryReader interface {
	History(ctx context.Context, entityID string, limit int) ([]entity.HistoryEntry, error)
}

// TaskLister lists scheduled tasks (scheduler.Scheduler).
type TaskLister interface {
	Tasks() []scheduler.TaskInfo
}

// LinkStatus reports on the hub connection (hass.Client).
type LinkStatus interface {
	Connected() bool
	Stats() hass.SessionStats
}

// RelayStats reports relay counters (relay.Relay).
type RelayStats interface {
	Stats() relay.Stats
}

// TelemetryStats reports telemetry writer counters (influxdb.Client).
type TelemetryStats interface {
	Stats() influxdb.Stats
}

// Deps holds the dependencies of the API server. Only Logger and Store are
// required.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Store     *entity.Store
	History   HistoryReader
	Calls     audit.Repository
	Scheduler TaskLister
	Link      LinkStatus
	Relay     RelayStats
	Telemetry TelemetryStats
	Version   string
}

// Server is the status HTTP server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	store     *entity.Store
	history   HistoryReader
	calls     audit.Repository
	scheduler TaskLister
	link      LinkStatus
	relay     RelayStats
	telemetry TelemetryStats
	version   string

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a server. It is not listening until Start is called.
//
// Returns:
//   - *Server: Configured server
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("entity store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		store:     deps.Store,
		history:   deps.History,
		calls:     deps.Calls,
		scheduler: deps.Scheduler,
		link:      deps.Link,
		relay:     deps.Relay,
		telemetry: deps.Telemetry,
		version:   deps.Version,
		hub:       NewHub(deps.Logger),
	}
	s.hub.snapshot = deps.Store.All

	// Every applied state reaches WebSocket subscribers.
	deps.Store.OnAnyChange(func(_, updated entity.State) {
		s.hub.Broadcast(ChannelStateChanged, updated)
	})
	return s, nil
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(srvCtx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("status API listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}
