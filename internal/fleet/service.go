package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/alert"
	"github.com/cellfleet/cellfleet-core/internal/audit"
	"github.com/cellfleet/cellfleet-core/internal/command"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/config"
	"github.com/cellfleet/cellfleet-core/internal/registry"
	"github.com/cellfleet/cellfleet-core/internal/resource"
	"github.com/cellfleet/cellfleet-core/internal/transport"
)

// Logger defines the logging interface used by the fleet service.
// Compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TelemetryWriter mirrors accepted values and command outcomes to the
// time-series backend. Both *influxdb.Client and *tsdb.Client satisfy it.
// Writes are non-blocking and best effort.
type TelemetryWriter interface {
	WriteResourceValue(endpoint string, objectID, resourceID int, value float64, observedAt time.Time)
	WriteSignalStrength(endpoint string, rssiDBm float64)
	WriteCommandOutcome(endpoint string, status string, attempts int)
}

// Resources the telemetry mirror treats as signal strength (RSSI dBm).
const (
	signalObjectID   = 4
	signalResourceID = 2
)

// Service is the composition root for the fleet subsystem. It owns the
// registry, resource store, dispatcher, alert evaluator, audit recorder
// and transport layer, and exposes the operator surface as methods.
type Service struct {
	registry   *registry.Registry
	sweeper    *registry.Sweeper
	store      *resource.Store
	dispatcher *command.Dispatcher
	evaluator  *alert.Evaluator
	recorder   *audit.Recorder
	auditRepo  audit.Repository
	listener   *transport.Listener
	pump       *transport.Pump
	telemetry  TelemetryWriter

	sweepInterval time.Duration

	logger   Logger
	stopOnce sync.Once
}

// New wires the fleet service over an open database and a connected
// message bus. The telemetry writer may be nil when no backend is
// configured; mirroring is then skipped.
func New(cfg *config.Config, db *sql.DB, bus transport.Bus, telemetry TelemetryWriter) *Service {
	reg := registry.New(registry.NewSQLiteRepository(db), registry.Options{
		DefaultLifetimeSeconds: int64(cfg.Registration.DefaultLifetime),
		MaxLifetimeSeconds:     int64(cfg.Registration.MaxLifetime),
	})

	store := resource.NewStore(resource.NewSQLiteRepository(db))

	dispatcher := command.NewDispatcher(command.NewSQLiteRepository(db), reg, command.Options{
		MaxAttempts:    cfg.Commands.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
	})

	evaluator := alert.NewEvaluator(alert.NewSQLiteRepository(db), alert.Options{
		SignalStrength: alert.Threshold{
			ObjectID:   signalObjectID,
			ResourceID: signalResourceID,
			Warning:    cfg.Alerts.SignalStrength.Warning,
			Critical:   cfg.Alerts.SignalStrength.Critical,
		},
		ErrorRate: alert.Threshold{
			ObjectID:   7,
			ResourceID: 15,
			Warning:    cfg.Alerts.ErrorRate.Warning,
			Critical:   cfg.Alerts.ErrorRate.Critical,
		},
	})

	auditRepo := audit.NewSQLiteRepository(db)
	recorder := audit.NewRecorder(auditRepo)

	qos := byte(cfg.MQTT.QoS)
	listener := transport.NewListener(bus, reg, store, dispatcher, qos)
	pump := transport.NewPump(bus, reg, dispatcher, transport.PumpOptions{
		AckTimeout: cfg.AckTimeout(),
		QoS:        qos,
	})

	s := &Service{
		registry:      reg,
		sweeper:       registry.NewSweeper(reg, cfg.SweepInterval(), nil),
		sweepInterval: cfg.SweepInterval(),
		store:         store,
		dispatcher:    dispatcher,
		evaluator:     evaluator,
		recorder:      recorder,
		auditRepo:     auditRepo,
		listener:      listener,
		pump:          pump,
		telemetry:     telemetry,
		logger:        noopLogger{},
	}

	reg.Subscribe(func(evt registry.Event) {
		ctx := context.Background()
		s.evaluator.HandleRegistryEvent(ctx, evt)
		s.recorder.HandleRegistryEvent(ctx, evt)
	})
	store.Subscribe(func(evt resource.Event) {
		s.evaluator.HandleResourceEvent(context.Background(), evt)
		s.mirrorValue(evt)
	})
	dispatcher.Subscribe(func(evt command.Event) {
		s.recorder.HandleCommandEvent(context.Background(), evt)
		s.mirrorOutcome(evt)
	})

	return s
}

// SetLogger sets the logger for the service and its components.
func (s *Service) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	s.logger = logger
	s.registry.SetLogger(logger)
	s.store.SetLogger(logger)
	s.dispatcher.SetLogger(logger)
	s.evaluator.SetLogger(logger)
	s.recorder.SetLogger(logger)
	s.listener.SetLogger(logger)
	s.pump.SetLogger(logger)
	// The sweeper takes its logger at construction; rebuild it.
	s.sweeper = registry.NewSweeper(s.registry, s.sweepInterval, logger)
}

// Start loads persisted state and launches the background loops.
//
// Order matters: queues are rebuilt before the transport starts so
// commands stuck in flight across a restart are resolved before the
// first delivery round.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	stats := s.registry.GetStats()
	s.logger.Info("device registry loaded",
		"devices", stats.TotalDevices, "registered", stats.ByState[registry.StateRegistered])

	if err := s.dispatcher.RebuildQueues(ctx); err != nil {
		return fmt.Errorf("rebuilding command queues: %w", err)
	}

	if err := s.listener.Start(); err != nil {
		return fmt.Errorf("starting transport listener: %w", err)
	}
	s.pump.Start(ctx)
	s.sweeper.Start(ctx)

	s.logger.Info("fleet service started")
	return nil
}

// Stop halts the background loops and detaches from the bus.
// Safe to call multiple times.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.sweeper.Stop()
		s.pump.Stop()
		s.listener.Stop()
		s.logger.Info("fleet service stopped")
	})
}

// mirrorValue forwards a numeric observation to the telemetry backend.
// Non-numeric values (strings, opaque blobs) are not mirrored.
func (s *Service) mirrorValue(evt resource.Event) {
	if s.telemetry == nil {
		return
	}

	number, err := strconv.ParseFloat(evt.Value.Value, 64)
	if err != nil {
		return
	}

	device, err := s.registry.GetByID(context.Background(), evt.Value.DeviceID)
	if err != nil {
		s.logger.Debug("telemetry mirror skipped, device lookup failed",
			"device_id", evt.Value.DeviceID, "error", err)
		return
	}

	s.telemetry.WriteResourceValue(device.Endpoint,
		evt.Value.ObjectID, evt.Value.ResourceID, number, evt.Value.ObservedAt)
	if evt.Value.ObjectID == signalObjectID && evt.Value.ResourceID == signalResourceID {
		s.telemetry.WriteSignalStrength(device.Endpoint, number)
	}
}

// mirrorOutcome forwards a terminal command state to the telemetry backend.
func (s *Service) mirrorOutcome(evt command.Event) {
	if s.telemetry == nil {
		return
	}

	device, err := s.registry.GetByID(context.Background(), evt.Command.DeviceID)
	if err != nil {
		s.logger.Debug("telemetry mirror skipped, device lookup failed",
			"device_id", evt.Command.DeviceID, "error", err)
		return
	}

	s.telemetry.WriteCommandOutcome(device.Endpoint,
		string(evt.Command.Status), evt.Command.Attempts)
}

// SubmitCommand queues a command for a known device.
func (s *Service) SubmitCommand(ctx context.Context, deviceID string, objectID, resourceID int, cmdType command.Type, payload string) (*command.Command, error) {
	return s.dispatcher.Submit(ctx, deviceID, objectID, resourceID, cmdType, payload)
}

// ListPendingCommands returns the queued commands for a device in
// submission order.
func (s *Service) ListPendingCommands(ctx context.Context, deviceID string) ([]command.Command, error) {
	return s.dispatcher.ListPending(ctx, deviceID)
}

// GetCommand returns a command by ID.
func (s *Service) GetCommand(ctx context.Context, commandID string) (*command.Command, error) {
	return s.dispatcher.Get(ctx, commandID)
}

// ListRegisteredDevices returns the devices currently in the registered state.
func (s *Service) ListRegisteredDevices(ctx context.Context) ([]registry.Device, error) {
	return s.registry.ListRegistered(ctx)
}

// ListDevices returns every known device regardless of state.
func (s *Service) ListDevices(ctx context.Context) ([]registry.Device, error) {
	return s.registry.List(ctx)
}

// GetDevice returns the device registered under the endpoint.
func (s *Service) GetDevice(ctx context.Context, endpoint string) (*registry.Device, error) {
	return s.registry.Get(ctx, endpoint)
}

// DeviceEpochs returns a device's registration epochs, newest first.
func (s *Service) DeviceEpochs(ctx context.Context, deviceID string) ([]registry.Epoch, error) {
	return s.registry.Epochs(ctx, deviceID)
}

// LatestResourceValue returns the most recently observed value for a
// device resource.
func (s *Service) LatestResourceValue(ctx context.Context, deviceID string, objectID, resourceID int) (*resource.Value, error) {
	return s.store.Latest(ctx, deviceID, objectID, resourceID)
}

// ResourceHistory returns past observations, newest first.
func (s *Service) ResourceHistory(ctx context.Context, deviceID string, objectID, resourceID, limit int, since *time.Time) ([]resource.Value, error) {
	return s.store.History(ctx, deviceID, objectID, resourceID, limit, since)
}

// DescribeResource registers or versions a resource descriptor.
func (s *Service) DescribeResource(ctx context.Context, deviceID string, objectID, resourceID int, name string, kind resource.Kind, dataType string) (*resource.Descriptor, error) {
	return s.store.Describe(ctx, deviceID, objectID, resourceID, name, kind, dataType)
}

// ListUnresolvedAlerts returns all open alerts across the fleet.
func (s *Service) ListUnresolvedAlerts(ctx context.Context) ([]alert.Alert, error) {
	return s.evaluator.ListUnresolved(ctx)
}

// ResolveAlert marks an alert resolved. Resolving twice is a no-op.
func (s *Service) ResolveAlert(ctx context.Context, alertID string) error {
	return s.evaluator.Resolve(ctx, alertID)
}

// AuditTrail returns audit log entries matching the filter.
func (s *Service) AuditTrail(ctx context.Context, filter audit.Filter) (*audit.ListResult, error) {
	return s.auditRepo.List(ctx, filter)
}
