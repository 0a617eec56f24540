// CCBC Core - Brewery Controller
//
// This is the main entry point for the CCBC Core service. It owns the
// serial link to the brewery microcontroller, runs hysteresis control
// over the heaters and pumps, and exposes live state over MQTT, InfluxDB,
// a REST API and a WebSocket feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/ccbc-core/internal/api"
	"github.com/nerrad567/ccbc-core/internal/bridges/arduino"
	"github.com/nerrad567/ccbc-core/internal/brewery"
	"github.com/nerrad567/ccbc-core/internal/control"
	"github.com/nerrad567/ccbc-core/internal/history"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/config"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/database"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/logging"
	"github.com/nerrad567/ccbc-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ccbc-core/internal/telemetry"
	"github.com/nerrad567/ccbc-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting CCBC Core",
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
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	store, err := loadStore(cfg, log)
	if err != nil {
		return err
	}

	// History database (optional)
	var recorder *history.SQLiteRepository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		recorder = history.NewSQLiteRepository(db.DB)
		log.Info("history database ready", "path", cfg.Database.Path)
	} else {
		log.Info("history database disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		// The broker announces the serial bridge offline if we vanish.
		lwt, lwtErr := arduino.LWTPayload()
		if lwtErr != nil {
			return fmt.Errorf("building MQTT will: %w", lwtErr)
		}
		will := mqtt.Will{Topic: arduino.HealthTopic(), Payload: lwt}
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.WithWill(will))
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
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
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)

	svc, err := telemetry.NewService(telemetryOptions(cfg, store, mqttClient, influxClient, hub, recorder))
	if err != nil {
		return fmt.Errorf("creating telemetry service: %w", err)
	}
	svc.SetLogger(log.Component("telemetry"))

	engine := control.NewEngine(store, control.Options{
		Logger:       log.Component("control"),
		OnTransition: svc.OnTransition,
	})

	sessionOpts := arduino.SessionOptions{
		Link: arduino.NewSerialLink(arduino.LinkConfig{
			Port:        cfg.Serial.Port,
			BaudRate:    cfg.Serial.BaudRate,
			ReadTimeout: cfg.ReadTimeout(),
		}),
		Store:        store,
		PollInterval: cfg.PollInterval(),
		StartupDelay: cfg.StartupDelay(),
		StaleAfter:   cfg.StaleAfter(),
		Logger:       log.Component("arduino"),
	}
	inline := cfg.Control.Mode == config.ControlModeInline
	if inline {
		sessionOpts.Control = engine.Tick
	}
	session, err := arduino.NewSession(sessionOpts)
	if err != nil {
		return fmt.Errorf("creating serial session: %w", err)
	}

	if mqttClient != nil {
		topic := mqtt.Topics{}.AllCommands()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), svc.HandleCommand); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
		log.Info("listening for MQTT commands", "topic", topic)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	// Runs before the closes deferred above: loops stop first.
	defer func() {
		cancel()
		_ = g.Wait() //nolint:errcheck // reported by the Wait below
	}()

	g.Go(func() error {
		if runErr := session.Run(gctx); runErr != nil {
			return fmt.Errorf("serial session: %w", runErr)
		}
		return nil
	})
	if !inline {
		g.Go(func() error { return engine.Run(gctx, cfg.ControlInterval()) })
	}
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if mqttClient != nil {
		reporter := arduino.NewHealthReporter(arduino.HealthReporterConfig{
			Version:   version,
			Interval:  cfg.HealthInterval(),
			Publisher: mqttClient,
			Session:   session,
		})
		reporter.SetLogger(log.Component("health"))
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("failed to publish starting health", "error", pubErr)
		}
		reporter.Start(gctx)
		defer reporter.Stop()
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log,
			Store:      store,
			Editor:     svc,
			Bridge:     session,
			StaleAfter: cfg.StaleAfter(),
			Hub:        hub,
			Version:    version,
		}
		if recorder != nil {
			deps.History = recorder
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete",
		"port", cfg.Serial.Port,
		"control_mode", cfg.Control.Mode,
		"heaters", len(store.Actuators(brewery.CategoryHeaters)),
		"pumps", len(store.Actuators(brewery.CategoryPumps)),
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service stopped with error", "error", err)
		return err
	}
	log.Info("CCBC Core stopped", "dropped_transitions", svc.Dropped())
	return nil
}

// loadStore builds the store and declares the entities from the
// configured entities file.
func loadStore(cfg *config.Config, log *logging.Logger) (*brewery.Store, error) {
	store := brewery.NewStore(
		brewery.WithLogger(log.Component("brewery")),
		brewery.WithBand(cfg.Control.Band),
	)
	d := cfg.Brewery.Defaults
	defaults := brewery.Defaults{
		HeaterSetpoint:    d.HeaterSetpoint,
		HeaterMaxTemp:     d.HeaterMaxTemp,
		InitialTemp:       d.InitialTemp,
		PressureSlope:     d.PressureSlope,
		PressureIntercept: d.PressureIntercept,
		GallonSlope:       d.GallonSlope,
		GallonIntercept:   d.GallonIntercept,
		PumpUpperGallons:  d.PumpUpperGallons,
		PumpLowerGallons:  d.PumpLowerGallons,
	}
	if err := brewery.LoadEntitiesFile(cfg.Brewery.EntitiesFile, store, defaults); err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	log.Info("entities loaded",
		"path", cfg.Brewery.EntitiesFile,
		"temperature_sensors", len(store.Sensors(brewery.CategoryTemperatureSensors)),
		"pressure_sensors", len(store.Sensors(brewery.CategoryPressureSensors)),
	)
	return store, nil
}

// telemetryOptions wires whichever sinks are enabled. Disabled sinks stay
// nil interfaces rather than typed nil pointers.
func telemetryOptions(cfg *config.Config, store *brewery.Store, mqttClient *mqtt.Client,
	influxClient *influxdb.Client, hub *api.Hub, recorder *history.SQLiteRepository) telemetry.Options {
	opts := telemetry.Options{
		Store:      store,
		Hub:        hub,
		Interval:   cfg.TelemetryInterval(),
		StaleAfter: cfg.StaleAfter(),
		QoS:        byte(cfg.MQTT.QoS),
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Influx = influxClient
	}
	if recorder != nil {
		opts.History = recorder
	}
	return opts
}

// getConfigPath returns the configuration file path.
// Uses CCBC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CCBC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
