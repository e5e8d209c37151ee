package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-hass/internal/api"
	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/entity"
	"github.com/nerrad567/gray-logic-hass/internal/event"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
	"github.com/nerrad567/gray-logic-hass/migrations"
)

// historyPruneAt is the daily wall-clock time of the state history prune.
const historyPruneAt = "03:30"

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the hub and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// run is the application logic, separated from the command for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfg *config.Config) error { //nolint:gocognit,gocyclo // startup wiring
	log := logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic Hass Link",
		"version", version,
		"commit", commit,
		"build_date", date,
		"hub", fmt.Sprintf("%s://%s:%d", cfg.HubScheme(), cfg.Hub.Host, cfg.Hub.Port),
	)

	// Optional local storage: state history and the service call log.
	var (
		history *entity.SQLiteHistory
		calls   *audit.SQLiteRepository
	)
	if cfg.Database.Enabled {
		db, err := database.Open(database.FromConfig(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		history = entity.NewSQLiteHistory(db.DB)
		calls = audit.NewSQLiteRepository(db.DB)
		log.Info("database ready", "path", db.Path())
	} else {
		log.Info("database disabled")
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var err error
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
			"domains", cfg.InfluxDB.Domains,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Core: mirrors, hub event handlers and local events.
	store := entity.NewStore()
	store.SetLogger(log.Component("entity"))

	busOpts := event.BusOptions{
		MaxInFlight: int64(cfg.Dispatch.MaxInFlight),
		Timeout:     cfg.GetCallbackTimeout(),
		ErrorBuffer: cfg.Dispatch.EventBuffer,
	}
	registry := event.NewRegistry()
	bus := event.NewBus(registry, busOpts)
	bus.SetLogger(log.Component("event"))
	custom := event.NewCustomEvents(busOpts)
	custom.SetLogger(log.Component("event"))

	relayOpts := relay.Options{
		Buffer: cfg.Dispatch.EventBuffer,
		QoS:    byte(cfg.MQTT.QoS),
	}
	if mqttClient != nil {
		relayOpts.Publisher = mqttClient
		relayOpts.Events = mqttClient
	}
	if influxClient != nil {
		relayOpts.Metrics = influxClient
	}
	if history != nil {
		relayOpts.History = history
	}
	if calls != nil {
		relayOpts.Calls = calls
	}

	var rel *relay.Relay
	client := hass.NewClient(hass.Options{
		Name: cfg.Hub.Name,
		DialOpts: hass.DialOptions{
			Host:    cfg.Hub.Host,
			Port:    cfg.Hub.Port,
			Secure:  cfg.Hub.Secure,
			Timeout: cfg.GetConnectTimeout(),
		},
		AccessToken:      cfg.Hub.AccessToken,
		StartStateStream: cfg.Hub.StartStateStream,
		ConnectTimeout:   cfg.GetConnectTimeout(),
		RequestTimeout:   cfg.GetRequestTimeout(),
		BacklogWarning:   cfg.Dispatch.EventBuffer,
		OnCall:           func(rec hass.CallRecord) { rel.RecordCall(rec) },
	}, store, bus, time.Duration(cfg.Hub.ReconnectDelay)*time.Second)
	client.SetLogger(log.Component("hass"))
	store.SetServiceCaller(client)

	relayOpts.Caller = client
	rel = relay.New(relayOpts)
	rel.SetLogger(log.Component("relay"))
	rel.Attach(store)
	rel.ForwardEvents(registry, hass.EventStateChanged)
	rel.ForwardEvents(custom, scheduler.EventCancelAll)
	rel.ForwardEvents(custom, scheduler.EventFireSandbox)
	if mqttClient != nil && cfg.MQTT.Commands {
		if err := rel.BindCommands(mqttClient); err != nil {
			return fmt.Errorf("binding MQTT commands: %w", err)
		}
		log.Info("MQTT service commands enabled")
	}

	client.OnReady(func(report *hass.StartupReport) {
		entities, unregistered := 0, 0
		if report.Load != nil {
			entities = report.Load.Entities
			unregistered = len(report.Load.Unregistered)
		}
		log.Info("hub session ready",
			"hub_version", report.HubVersion,
			"subscribed", report.Subscribed,
			"entities", entities,
			"unregistered", unregistered,
		)
		if err := report.Err(); err != nil {
			log.Warn("hub session started degraded", "error", err)
		}
	})

	sched := scheduler.New(store, scheduler.Options{
		Location:    cfg.Location(),
		Sandbox:     cfg.Scheduler.Sandbox,
		BaseContext: hass.WithOrigin(ctx, hass.OriginScheduler),
	})
	sched.SetLogger(log.Component("scheduler"))
	sched.BindEvents(custom)
	defer sched.Close()
	if history != nil && cfg.Database.RetentionDays > 0 {
		retention := time.Duration(cfg.Database.RetentionDays) * 24 * time.Hour
		if _, err := sched.RunDailyAt(historyPruneAt, func(ctx context.Context) error {
			n, err := history.Prune(ctx, retention)
			if err != nil {
				return err
			}
			log.Info("state history pruned", "deleted", n)
			return nil
		}); err != nil {
			return fmt.Errorf("scheduling history prune: %w", err)
		}
	}
	if cfg.Scheduler.Sandbox {
		log.Warn("scheduler sandbox mode: tasks only fire on SIGUSR1")
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			Logger:    log.Component("api"),
			Store:     store,
			Scheduler: sched,
			Link:      client,
			Relay:     rel,
			Version:   version,
		}
		if history != nil {
			deps.History = history
		}
		if calls != nil {
			deps.Calls = calls
		}
		if influxClient != nil {
			deps.Telemetry = influxClient
		}
		var err error
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating status API: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting status API: %w", err)
		}
		defer func() {
			log.Info("stopping status API")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping status API", "error", closeErr)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rel.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error {
		drainCallbackErrors(gctx, bus.Errors(), custom.Errors(), log)
		return nil
	})
	g.Go(func() error {
		handleSchedulerSignals(gctx, custom, log)
		return nil
	})

	log.Info("initialisation complete, waiting for shutdown signal")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		log.Error("stopped with error", "error", err)
		return err
	}
	log.Info("Gray Logic Hass Link stopped")
	return nil
}

// drainCallbackErrors logs handler failures from hub and local events.
func drainCallbackErrors(ctx context.Context, hub, local <-chan error, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-hub:
			log.Warn("event handler failed", "error", err)
		case err := <-local:
			log.Warn("local event handler failed", "error", err)
		}
	}
}

// handleSchedulerSignals maps SIGUSR1 to a sandbox fire and SIGUSR2 to
// cancelling every task.
func handleSchedulerSignals(ctx context.Context, custom *event.CustomEvents, log *logging.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			name := scheduler.EventFireSandbox
			if sig == syscall.SIGUSR2 {
				name = scheduler.EventCancelAll
			}
			if _, err := custom.Emit(ctx, name, nil); err != nil {
				log.Warn("scheduler signal failed", "signal", sig.String(), "error", err)
			}
		}
	}
}
