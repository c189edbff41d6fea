// CellFleet Core - Cellular Gateway Fleet Management
//
// This is the main entry point for the CellFleet Core application.
// CellFleet Core manages a fleet of cellular LWM2M gateways:
//   - Registration registry with lifetime-based liveness tracking
//   - Per-device command dispatch with retry and acknowledgement deadlines
//   - Resource value store with telemetry mirroring
//   - Threshold and liveness alerting
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/cellfleet/cellfleet-core/migrations"

	"github.com/cellfleet/cellfleet-core/internal/fleet"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/config"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/database"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/influxdb"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/logging"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/mqtt"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/tsdb"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting CellFleet Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect the telemetry backend (optional)
	telemetry, healthChecks, closers, err := connectTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	for i := len(closers) - 1; i >= 0; i-- {
		defer closers[i]()
	}

	// Wire the fleet service
	service := fleet.New(cfg, db.DB, mqttClient, telemetry)
	service.SetLogger(log)

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("starting fleet service: %w", err)
	}
	defer func() {
		log.Info("stopping fleet service")
		service.Stop()
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, healthChecks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Fleet service
	// 2. Telemetry (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("CellFleet Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CELLFLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CELLFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthChecker is the health probe shared by infrastructure clients.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// connectTelemetry connects the configured time-series backend.
//
// Returns a nil writer when the backend is disabled; mirroring is then
// skipped by the fleet service. The returned closers run on shutdown in
// reverse order of connection.
func connectTelemetry(ctx context.Context, cfg *config.Config, log *logging.Logger) (fleet.TelemetryWriter, []healthChecker, []func(), error) {
	switch cfg.Telemetry.Backend {
	case "influxdb":
		if !cfg.Telemetry.InfluxDB.Enabled {
			log.Info("InfluxDB telemetry disabled")
			return nil, nil, nil, nil
		}

		client, err := influxdb.Connect(cfg.Telemetry.InfluxDB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.Telemetry.InfluxDB.URL,
			"org", cfg.Telemetry.InfluxDB.Org,
			"bucket", cfg.Telemetry.InfluxDB.Bucket,
		)

		closer := func() {
			log.Info("closing InfluxDB connection")
			if err := client.Close(); err != nil {
				log.Error("error closing InfluxDB", "error", err)
			}
		}
		return client, []healthChecker{client}, []func(){closer}, nil

	case "victoriametrics":
		if !cfg.Telemetry.VictoriaMetrics.Enabled {
			log.Info("VictoriaMetrics telemetry disabled")
			return nil, nil, nil, nil
		}

		client, err := tsdb.Connect(ctx, cfg.Telemetry.VictoriaMetrics)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to VictoriaMetrics: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("VictoriaMetrics write error", "error", err)
		})
		log.Info("VictoriaMetrics connected", "url", cfg.Telemetry.VictoriaMetrics.URL)

		closer := func() {
			log.Info("closing VictoriaMetrics connection")
			if err := client.Close(); err != nil {
				log.Error("error closing VictoriaMetrics", "error", err)
			}
		}
		return client, []healthChecker{client}, []func(){closer}, nil

	default:
		log.Info("telemetry disabled", "backend", cfg.Telemetry.Backend)
		return nil, nil, nil, nil
	}
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, extra []healthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	for _, hc := range extra {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}

	return nil
}
