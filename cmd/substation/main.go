// Substation Core - IEC 61850 IED registry
//
// This is the main entry point for the Substation Core service. It keeps
// the inventory of Intelligent Electronic Devices for one substation:
//   - Device registry with connection state tracking
//   - Protocol configuration and datasets with snapshot export/import
//   - Append-only event log, persisted to SQLite
//   - Heartbeat ingestion over MQTT, telemetry to InfluxDB
//   - REST and WebSocket API
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/substation-core/internal/api"
	"github.com/nerrad567/substation-core/internal/auth"
	"github.com/nerrad567/substation-core/internal/eventlog"
	"github.com/nerrad567/substation-core/internal/heartbeat"
	"github.com/nerrad567/substation-core/internal/ied"
	"github.com/nerrad567/substation-core/internal/infrastructure/config"
	"github.com/nerrad567/substation-core/internal/infrastructure/database"
	"github.com/nerrad567/substation-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/substation-core/internal/infrastructure/logging"
	"github.com/nerrad567/substation-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/substation-core/internal/metrics"
	"github.com/nerrad567/substation-core/internal/scheduler"
	"github.com/nerrad567/substation-core/internal/telemetry"
	"github.com/nerrad567/substation-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownTimeout bounds how long running scheduled tasks may take to
// finish on shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring reads best as one sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Substation Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best-effort flush of the log file
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"site", cfg.Site.ID,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Event log: memory window over the SQLite sink
	events := eventlog.New(eventlog.NewSQLiteSink(db.DB), eventlog.Config{
		Capacity: cfg.EventLog.MemoryCapacity,
	})
	events.SetLogger(log.With("component", "eventlog"))
	if loadErr := events.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading event log: %w", loadErr)
	}
	log.Info("event log loaded", "entries", events.Len())

	// Device registry
	registry := ied.NewRegistry(ied.NewSQLiteRepository(db.DB), events, ied.RegistryConfig{
		QuietPeriod:    cfg.Registry.HeartbeatLogQuietPeriod,
		DefaultMMSPort: cfg.Registry.DefaultMMSPort,
	})
	registry.SetLogger(log.With("component", "registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	if cfg.Registry.SeedSamples {
		seeded, seedErr := registry.SeedSamples(ctx)
		if seedErr != nil {
			return fmt.Errorf("seeding sample devices: %w", seedErr)
		}
		if seeded > 0 {
			log.Info("sample devices seeded", "devices", seeded)
		}
	}
	log.Info("device registry initialised", "devices", registry.Count())

	metricsRegistry := metrics.NewRegistry()
	appMetrics := metrics.NewAppMetrics(metricsRegistry)
	metrics.RegisterDB(metricsRegistry, db.DB)

	checks := map[string]api.HealthChecker{"database": db}
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)

	// Connect to MQTT broker (optional). The registry keeps working
	// without it; heartbeats are simply not received.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without heartbeats", "error", err)
			checks["mqtt"] = unavailable{err}
		} else {
			defer func() {
				log.Info("disconnecting from MQTT")
				if closeErr := mqttClient.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			mqttClient.SetLogger(log.With("component", "mqtt"))
			mqttClient.SetOnConnect(func() {
				log.Info("MQTT reconnected")
			})
			mqttClient.SetOnDisconnect(func(err error) {
				log.Warn("MQTT disconnected", "error", err)
			})
			checks["mqtt"] = mqttClient
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without telemetry", "error", err)
			checks["influxdb"] = unavailable{err}
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			checks["influxdb"] = influxClient
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry fan-out. Interfaces are only set for live clients so a
	// nil pointer never hides behind a non-nil interface.
	opts := telemetry.Options{
		Topics:  topics,
		QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // QoS validated to 0-2 by config
		Metrics: appMetrics,
		Logger:  log.With("component", "telemetry"),
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Influx = influxClient
	}
	publisher := telemetry.New(opts)
	publisher.Start()
	defer publisher.Stop()
	registry.OnStatusChange(publisher.OnStatusChange)
	unsubscribeTelemetry := events.Subscribe(publisher.OnLogEntry)
	defer unsubscribeTelemetry()

	// Heartbeat monitor
	monitor := heartbeat.New(registry, heartbeat.Config{
		Timeout:     cfg.Heartbeat.Timeout,
		Workers:     cfg.Heartbeat.Workers,
		QueueSize:   cfg.Heartbeat.QueueSize,
		CallTimeout: cfg.Heartbeat.CallTimeout,
	})
	monitor.SetLogger(log.With("component", "heartbeat"))
	if cfg.Heartbeat.Enabled {
		monitor.Start()
		defer func() {
			log.Info("stopping heartbeat monitor")
			monitor.Stop()
		}()
		if mqttClient != nil {
			if subErr := mqttClient.Subscribe(topics.AllDeviceHeartbeats(), byte(cfg.MQTT.QoS), monitor.MessageHandler(topics)); subErr != nil { //nolint:gosec // QoS validated to 0-2 by config
				return fmt.Errorf("subscribing to heartbeats: %w", subErr)
			}
			log.Info("subscribed to device heartbeats", "topic", topics.AllDeviceHeartbeats())
		}
	}

	metrics.RegisterSources(metricsRegistry, metrics.Sources{
		DeviceCounts: func() map[string]int {
			counts := registry.CountByStatus()
			out := make(map[string]int, len(counts))
			for s, n := range counts {
				out[string(s)] = n
			}
			return out
		},
		Statuses:          statusNames(),
		SinkFailures:      events.SinkFailures,
		HeartbeatsDropped: monitor.Dropped,
		TelemetryDropped:  publisher.Dropped,
	})

	// Scheduled maintenance
	sched := scheduler.New(log.With("component", "scheduler"))
	if cfg.Heartbeat.Enabled {
		if addErr := sched.Every("heartbeat-sweep", cfg.Heartbeat.SweepInterval, func(ctx context.Context) error {
			n, err := monitor.Sweep(ctx)
			if n > 0 {
				log.Info("silent devices disconnected", "devices", n)
			}
			return err
		}); addErr != nil {
			return fmt.Errorf("scheduling heartbeat sweep: %w", addErr)
		}
	}
	if retention := cfg.EventLog.Retention(); retention > 0 {
		if addErr := sched.Add("event-log-prune", cfg.EventLog.PruneSchedule, func(ctx context.Context) error {
			n, err := events.Prune(ctx, retention)
			if n > 0 {
				log.Info("event log pruned", "entries", n, "retention_days", cfg.EventLog.RetentionDays)
			}
			return err
		}); addErr != nil {
			return fmt.Errorf("scheduling event log prune: %w", addErr)
		}
	}
	if addErr := sched.Add("db-optimize", "@weekly", db.Optimize); addErr != nil {
		return fmt.Errorf("scheduling database optimise: %w", addErr)
	}
	sched.Start()
	defer func() {
		log.Info("stopping scheduler")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := sched.Stop(stopCtx); stopErr != nil {
			log.Warn("scheduler did not stop cleanly", "error", stopErr)
		}
	}()

	// Operator accounts
	var users *auth.UserStore
	if cfg.Security.AuthEnabled {
		users, err = auth.NewUserStore(cfg.Security.Users)
		if err != nil {
			return fmt.Errorf("loading users: %w", err)
		}
		log.Info("authentication enabled", "users", users.Len())
	} else {
		log.Warn("authentication disabled, every caller has admin rights")
	}

	server, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Security:       cfg.Security,
		Logger:         log.With("component", "api"),
		Registry:       registry,
		Events:         events,
		Users:          users,
		Checks:         checks,
		Metrics:        appMetrics,
		MetricsHandler: metrics.Handler(metricsRegistry),
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, scheduler,
	// heartbeat monitor, telemetry, InfluxDB, MQTT, database.

	log.Info("Substation Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SUBSTATION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SUBSTATION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func statusNames() []string {
	statuses := ied.AllStatuses()
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return names
}

// unavailable reports a component that failed to connect at startup.
type unavailable struct{ err error }

func (u unavailable) HealthCheck(context.Context) error {
	return fmt.Errorf("not connected: %w", u.err)
}
