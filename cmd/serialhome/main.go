// SerialHome Core polls sensors and drives actors attached to a hardware
// master on a single serial link, evaluating threshold rules against every
// reading and exposing the registry over HTTP and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/serialhome/serialhome-core/migrations"

	"github.com/serialhome/serialhome-core/internal/api"
	"github.com/serialhome/serialhome-core/internal/automation"
	"github.com/serialhome/serialhome-core/internal/gateway"
	"github.com/serialhome/serialhome-core/internal/hardware"
	"github.com/serialhome/serialhome-core/internal/infrastructure/config"
	"github.com/serialhome/serialhome-core/internal/infrastructure/database"
	"github.com/serialhome/serialhome-core/internal/infrastructure/influxdb"
	"github.com/serialhome/serialhome-core/internal/infrastructure/logging"
	"github.com/serialhome/serialhome-core/internal/infrastructure/metrics"
	"github.com/serialhome/serialhome-core/internal/infrastructure/mqtt"
	"github.com/serialhome/serialhome-core/internal/scheduler"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled, then tears
// everything down in reverse order. The engine stops before the gateway
// closes so cancelled duty cycles can still send their off command.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.Default()
	log.Info("starting SerialHome Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	registry := hardware.NewRegistry(hardware.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading hardware registry: %w", refreshErr)
	}
	sensors, actors, rules := registry.Counts()
	log.Info("hardware registry loaded", "sensors", sensors, "actors", actors, "rules", rules)

	m := metrics.New()

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	gw := gateway.New(gateway.Config{
		ResponseTimeout: cfg.Serial.ResponseTimeout,
		QueueSize:       cfg.Serial.QueueSize,
		Logger:          log,
		Observer:        m,
	}, gateway.SerialOpener(cfg.Serial.Device, cfg.Serial.BaudRate, cfg.Serial.ReadPoll))
	defer func() {
		log.Info("closing serial gateway")
		if closeErr := gw.Close(); closeErr != nil {
			log.Error("error closing serial gateway", "error", closeErr)
		}
	}()
	log.Info("serial gateway ready", "device", cfg.Serial.Device, "baud_rate", cfg.Serial.BaudRate)

	sched := scheduler.New(nil)
	sched.SetLogger(log)
	m.RegisterGauge("scheduler_tasks", "Live scheduler task handles.", func() float64 {
		return float64(sched.Len())
	})

	engine := automation.NewEngine(automation.Config{
		StartupStagger: cfg.Scheduler.StartupStagger,
		OffTimeout:     cfg.Scheduler.OffTimeout,
		Retention:      cfg.ReadingsRetention(),
		PruneInterval:  cfg.Retention.PruneInterval,
	}, sched, gw, registry, log)
	engine.SetObserver(m)
	if influxClient != nil {
		engine.SetTimeSeries(influxClient)
	}
	if mqttClient != nil {
		engine.SetPublisher(mqtt.NewEventPublisher(mqttClient, byte(cfg.MQTT.QoS)))
	}

	checks := map[string]api.HealthChecker{"database": db, "serial": gw}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			Registry: registry,
			Engine:   engine,
			Metrics:  m,
			Gateway:  gw,
			Checks:   checks,
			Version:  version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		engine.SetHub(server.Hub())
		m.RegisterGauge("websocket_clients", "Connected WebSocket clients.", func() float64 {
			return float64(server.Hub().ClientCount())
		})
	}

	registry.SetChangeHandler(engine)
	if startErr := engine.Start(); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping scheduler")
		engine.Stop()
	}()
	log.Info("engine started", "startup_stagger", cfg.Scheduler.StartupStagger)

	if mqttClient != nil {
		if subErr := mqttClient.SubscribeControl(controlHandler(ctx, engine, log)); subErr != nil {
			return fmt.Errorf("subscribing to control topics: %w", subErr)
		}
	}

	if server != nil {
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// controller is the engine operation MQTT control requests reach.
type controller interface {
	Control(ctx context.Context, actorID int64, req automation.PulseRequest) (string, error)
}

// controlHandler starts a pulse for each control request received over MQTT.
// Invalid requests and unknown actors are logged and dropped.
func controlHandler(ctx context.Context, ctl controller, log *logging.Logger) mqtt.ControlHandler {
	return func(actorID int64, cmd mqtt.ControlCommand) error {
		req, err := automation.NewPulseRequest(cmd.Value, cmd.DelaySec, cmd.DurationSec)
		if err != nil {
			log.Warn("rejected MQTT control request", "actor_id", actorID, "error", err)
			return nil
		}
		reqID, err := ctl.Control(ctx, actorID, req)
		if err != nil {
			if errors.Is(err, automation.ErrInvalidPulse) || errors.Is(err, hardware.ErrActorNotFound) {
				log.Warn("rejected MQTT control request", "actor_id", actorID, "error", err)
				return nil
			}
			return fmt.Errorf("control actor %d: %w", actorID, err)
		}
		log.Info("MQTT control request accepted", "actor_id", actorID, "request_id", reqID)
		return nil
	}
}

// getConfigPath uses SERIALHOME_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("SERIALHOME_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. The serial link is
// not checked: the gateway opens the port lazily and keeps retrying.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
