package alert

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/registry"
	"github.com/cellfleet/cellfleet-core/internal/resource"
)

// Logger defines the logging interface used by the Evaluator.
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

// Threshold binds a telemetry point to its alerting bounds.
type Threshold struct {
	ObjectID   int
	ResourceID int
	Warning    float64
	Critical   float64
}

// Options configure which telemetry points the evaluator watches.
type Options struct {
	// SignalStrength triggers when the value drops below the bounds
	// (dBm, critical at or below warning). Zero selects connectivity
	// monitoring RSSI (object 4, resource 2) at -95/-105.
	SignalStrength Threshold

	// ErrorRate triggers when the value rises above the bounds (fraction
	// of failed exchanges, critical at or above warning). Zero selects
	// connectivity statistics (object 7, resource 15) at 0.05/0.20.
	ErrorRate Threshold
}

func defaultOptions() Options {
	return Options{
		SignalStrength: Threshold{ObjectID: 4, ResourceID: 2, Warning: -95, Critical: -105},
		ErrorRate:      Threshold{ObjectID: 7, ResourceID: 15, Warning: 0.05, Critical: 0.20},
	}
}

// Evaluator derives alerts from two event streams: registration
// transitions and resource value writes.
//
// Alerting is idempotent: raising a condition that already has an open
// alert for the device is a no-op, enforced twice (a read before insert
// and the partial unique index underneath). A worsening condition
// escalates the open alert to critical; a cleared condition or a device
// coming back resolves it.
type Evaluator struct {
	repo Repository
	opts Options

	logger Logger
}

// NewEvaluator creates an alert evaluator.
func NewEvaluator(repo Repository, opts Options) *Evaluator {
	defaults := defaultOptions()
	if opts.SignalStrength == (Threshold{}) {
		opts.SignalStrength = defaults.SignalStrength
	}
	if opts.ErrorRate == (Threshold{}) {
		opts.ErrorRate = defaults.ErrorRate
	}
	return &Evaluator{
		repo:   repo,
		opts:   opts,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the evaluator.
func (e *Evaluator) SetLogger(logger Logger) {
	e.logger = logger
}

// HandleRegistryEvent reacts to a registration transition.
//
// A device going stale raises an offline warning; a device transitioning
// into registered resolves any open offline alert. Deregistration also
// resolves it: an intentionally removed gateway is not offline.
func (e *Evaluator) HandleRegistryEvent(ctx context.Context, evt registry.Event) {
	switch evt.Type {
	case registry.EventStale:
		message := fmt.Sprintf("gateway %s missed its registration lifetime", evt.Device.Endpoint)
		e.raise(ctx, evt.Device.ID, TypeOffline, SeverityWarning, message)

	case registry.EventRegistered, registry.EventDeregistered:
		e.resolveType(ctx, evt.Device.ID, TypeOffline)
	}
}

// HandleResourceEvent reacts to a recorded value write. Only the
// configured signal-strength and error-rate telemetry points are
// inspected; everything else is ignored.
func (e *Evaluator) HandleResourceEvent(ctx context.Context, evt resource.Event) {
	v := evt.Value

	switch {
	case v.ObjectID == e.opts.SignalStrength.ObjectID && v.ResourceID == e.opts.SignalStrength.ResourceID:
		value, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			e.logger.Debug("non-numeric signal strength ignored", "device_id", v.DeviceID, "value", v.Value)
			return
		}
		e.evaluateLowerBound(ctx, v.DeviceID, TypeLowSignal, e.opts.SignalStrength, value,
			fmt.Sprintf("signal strength %.1f dBm", value))

	case v.ObjectID == e.opts.ErrorRate.ObjectID && v.ResourceID == e.opts.ErrorRate.ResourceID:
		value, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			e.logger.Debug("non-numeric error rate ignored", "device_id", v.DeviceID, "value", v.Value)
			return
		}
		e.evaluateUpperBound(ctx, v.DeviceID, TypeHighErrorRate, e.opts.ErrorRate, value,
			fmt.Sprintf("exchange error rate %.2f", value))
	}
}

// evaluateLowerBound alerts when the value drops below the bounds.
func (e *Evaluator) evaluateLowerBound(ctx context.Context, deviceID string, alertType Type, th Threshold, value float64, message string) {
	switch {
	case value <= th.Critical:
		e.raise(ctx, deviceID, alertType, SeverityCritical, message)
	case value <= th.Warning:
		e.raise(ctx, deviceID, alertType, SeverityWarning, message)
	default:
		e.resolveType(ctx, deviceID, alertType)
	}
}

// evaluateUpperBound alerts when the value rises above the bounds.
func (e *Evaluator) evaluateUpperBound(ctx context.Context, deviceID string, alertType Type, th Threshold, value float64, message string) {
	switch {
	case value >= th.Critical:
		e.raise(ctx, deviceID, alertType, SeverityCritical, message)
	case value >= th.Warning:
		e.raise(ctx, deviceID, alertType, SeverityWarning, message)
	default:
		e.resolveType(ctx, deviceID, alertType)
	}
}

// raise creates an alert unless an equivalent one is already open.
// An open warning escalates to critical by resolving and re-raising.
func (e *Evaluator) raise(ctx context.Context, deviceID string, alertType Type, severity Severity, message string) {
	existing, err := e.repo.GetUnresolved(ctx, deviceID, alertType)
	switch {
	case err == nil:
		if existing.Severity == SeverityWarning && severity == SeverityCritical {
			if err := e.repo.Resolve(ctx, existing.ID, time.Now().UTC()); err != nil {
				e.logger.Warn("escalation resolve failed", "alert_id", existing.ID, "error", err)
				return
			}
			e.logger.Info("alert escalated", "device_id", deviceID, "type", alertType)
			break
		}
		e.logger.Debug("alert already open", "device_id", deviceID, "type", alertType)
		return

	case !errors.Is(err, ErrAlertNotFound):
		e.logger.Warn("checking open alert failed", "device_id", deviceID, "type", alertType, "error", err)
		return
	}

	a := &Alert{
		DeviceID: deviceID,
		Type:     alertType,
		Severity: severity,
		Message:  message,
	}
	if err := e.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateUnresolved) {
			// Lost a race with a concurrent raise; the constraint kept
			// the invariant.
			return
		}
		e.logger.Warn("creating alert failed", "device_id", deviceID, "type", alertType, "error", err)
		return
	}

	e.logger.Info("alert raised",
		"alert_id", a.ID, "device_id", deviceID, "type", alertType, "severity", severity)
}

// resolveType resolves the open alert of a type for a device, if any.
func (e *Evaluator) resolveType(ctx context.Context, deviceID string, alertType Type) {
	existing, err := e.repo.GetUnresolved(ctx, deviceID, alertType)
	if err != nil {
		if !errors.Is(err, ErrAlertNotFound) {
			e.logger.Warn("checking open alert failed", "device_id", deviceID, "type", alertType, "error", err)
		}
		return
	}

	if err := e.repo.Resolve(ctx, existing.ID, time.Now().UTC()); err != nil {
		e.logger.Warn("resolving alert failed", "alert_id", existing.ID, "error", err)
		return
	}

	e.logger.Info("alert auto-resolved",
		"alert_id", existing.ID, "device_id", deviceID, "type", alertType)
}

// Resolve marks an alert resolved. Operator- or system-triggered; a no-op
// if the alert is already resolved.
func (e *Evaluator) Resolve(ctx context.Context, alertID string) error {
	return e.repo.Resolve(ctx, alertID, time.Now().UTC())
}

// ListUnresolved returns all open alerts, newest first.
func (e *Evaluator) ListUnresolved(ctx context.Context) ([]Alert, error) {
	return e.repo.ListUnresolved(ctx)
}

// ListByDevice returns a device's alert history, newest first.
func (e *Evaluator) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Alert, error) {
	return e.repo.ListByDevice(ctx, deviceID, limit)
}

// Get retrieves an alert by id.
func (e *Evaluator) Get(ctx context.Context, alertID string) (*Alert, error) {
	return e.repo.Get(ctx, alertID)
}
