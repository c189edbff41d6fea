package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/registry"
)

// Logger defines the logging interface used by the Dispatcher.
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

// DeviceDirectory reports device existence and registration state.
// *registry.Registry satisfies it.
type DeviceDirectory interface {
	GetByID(ctx context.Context, id string) (*registry.Device, error)
}

// Options tune retry and backoff behavior.
type Options struct {
	// MaxAttempts is the number of delivery attempts before a command
	// fails terminally. Zero selects the default of 3.
	MaxAttempts int

	// BackoffInitial is the retry delay after the first failed attempt.
	// Zero selects the default of 2s. The delay doubles per attempt.
	BackoffInitial time.Duration

	// BackoffMax caps the exponential retry delay. Zero selects the
	// default of 2m.
	BackoffMax time.Duration
}

const (
	defaultMaxAttempts    = 3
	defaultBackoffInitial = 2 * time.Second
	defaultBackoffMax     = 2 * time.Minute
)

// Dispatcher owns the command lifecycle: submission, per-device FIFO
// delivery, outcome handling, and retry with exponential backoff.
//
// Status transitions complete only after the repository write succeeds;
// the in-memory queues never claim a state the database does not hold.
// Terminal states are immutable: a late or duplicate acknowledgement for
// a succeeded or failed command is ignored.
//
// Each device has its own queue with its own mutex, so dispatch for one
// device never blocks another. All public methods are thread-safe.
type Dispatcher struct {
	repo    Repository
	devices DeviceDirectory
	opts    Options

	queues map[string]*deviceQueue
	mu     sync.Mutex // Protects queues map

	subscribers []func(Event)
	subMu       sync.RWMutex

	logger Logger
}

// deviceQueue holds one device's pending command ids in delivery order.
type deviceQueue struct {
	mu  sync.Mutex
	ids []string
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(repo Repository, devices DeviceDirectory, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BackoffInitial <= 0 {
		opts.BackoffInitial = defaultBackoffInitial
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	return &Dispatcher{
		repo:    repo,
		devices: devices,
		opts:    opts,
		queues:  make(map[string]*deviceQueue),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Subscribe registers a callback for terminal command transitions.
// Callbacks run synchronously; handlers must not perform network I/O.
// Wire all subscribers during startup.
func (d *Dispatcher) Subscribe(fn func(Event)) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.subscribers = append(d.subscribers, fn)
}

func (d *Dispatcher) emit(evt Event) {
	d.subMu.RLock()
	subs := d.subscribers
	d.subMu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// queue returns the queue for a device, creating it if needed.
func (d *Dispatcher) queue(deviceID string) *deviceQueue {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.queues[deviceID]
	if !ok {
		q = &deviceQueue{}
		d.queues[deviceID] = q
	}
	return q
}

// Submit creates a pending command and enqueues it on the device's queue.
//
// The device record must exist, but the device need not be currently
// registered: commands queued against a stale device are delivered once
// it reconnects. Returns ErrDeviceUnknown for identities with no record.
func (d *Dispatcher) Submit(ctx context.Context, deviceID string, objectID, resourceID int, cmdType Type, payload string) (*Command, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidCommand)
	}
	if !cmdType.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmdType)
	}
	if cmdType == TypeWrite && payload == "" {
		return nil, fmt.Errorf("%w: write requires a payload", ErrInvalidCommand)
	}

	if _, err := d.devices.GetByID(ctx, deviceID); err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return nil, ErrDeviceUnknown
		}
		return nil, err
	}

	cmd := &Command{
		ID:         GenerateID(),
		DeviceID:   deviceID,
		ObjectID:   objectID,
		ResourceID: resourceID,
		Type:       cmdType,
		Payload:    payload,
		Status:     StatusPending,
	}

	q := d.queue(deviceID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := d.repo.Create(ctx, cmd); err != nil {
		return nil, err
	}
	q.ids = append(q.ids, cmd.ID)

	d.logger.Info("command submitted",
		"command_id", cmd.ID, "device_id", deviceID, "type", cmdType,
		"object_id", objectID, "resource_id", resourceID)

	return cmd.DeepCopy(), nil
}

// NextToSend returns the next deliverable command for a device, already
// transitioned to sent with its attempt stamped. Returns (nil, nil) when
// nothing is deliverable.
//
// Only registered devices yield commands: there is no point transmitting
// to an unreachable gateway, so stale and deregistered devices exert
// back-pressure by returning nothing. Within the queue, commands go out
// in order; a retried command waiting out its backoff keeps its place but
// does not block commands queued behind it.
func (d *Dispatcher) NextToSend(ctx context.Context, deviceID string) (*Command, error) {
	device, err := d.devices.GetByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return nil, ErrDeviceUnknown
		}
		return nil, err
	}
	if device.State != registry.StateRegistered {
		return nil, nil
	}

	q := d.queue(deviceID)
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	for i := 0; i < len(q.ids); {
		cmd, err := d.repo.Get(ctx, q.ids[i])
		if err != nil {
			if errors.Is(err, ErrCommandNotFound) {
				// Stale queue entry.
				q.ids = append(q.ids[:i], q.ids[i+1:]...)
				continue
			}
			return nil, err
		}
		if cmd.Status != StatusPending {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			continue
		}
		if cmd.NotBefore != nil && cmd.NotBefore.After(now) {
			// Waiting out its retry backoff; keeps its place without
			// blocking commands queued behind it.
			i++
			continue
		}

		cmd.Status = StatusSent
		cmd.Attempts++
		cmd.NotBefore = nil
		if err := d.repo.Update(ctx, cmd); err != nil {
			return nil, err
		}
		q.ids = append(q.ids[:i], q.ids[i+1:]...)

		d.logger.Debug("command dispatched",
			"command_id", cmd.ID, "device_id", deviceID, "attempt", cmd.Attempts)
		return cmd.DeepCopy(), nil
	}

	return nil, nil
}

// ReportOutcome records the result of a delivery attempt.
//
// Success transitions sent -> succeeded and stamps completion. Failure
// applies the retry policy: below the attempt limit the command returns
// to pending at the queue tail with an exponential backoff eligibility
// timestamp; at the limit it fails terminally. Outcomes for commands not
// currently sent (late or duplicate acknowledgements) are ignored.
func (d *Dispatcher) ReportOutcome(ctx context.Context, commandID string, outcome Outcome) (*Command, error) {
	probe, err := d.repo.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}

	q := d.queue(probe.DeviceID)
	q.mu.Lock()
	defer q.mu.Unlock()

	// Re-read under the queue lock.
	cmd, err := d.repo.Get(ctx, commandID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != StatusSent {
		d.logger.Debug("outcome ignored",
			"command_id", commandID, "status", cmd.Status, "success", outcome.Success)
		return cmd, nil
	}

	now := time.Now().UTC()

	if outcome.Success {
		cmd.Status = StatusSucceeded
		cmd.CompletedAt = &now
		cmd.LastError = ""
		if err := d.repo.Update(ctx, cmd); err != nil {
			return nil, err
		}
		d.logger.Info("command succeeded",
			"command_id", commandID, "device_id", cmd.DeviceID, "attempts", cmd.Attempts)
		d.emit(Event{Command: *cmd.DeepCopy()})
		return cmd.DeepCopy(), nil
	}

	detail := outcome.Error
	if detail == "" {
		detail = "unspecified failure"
	}
	cmd.LastError = detail

	if cmd.Attempts < d.opts.MaxAttempts {
		eligible := now.Add(d.backoff(cmd.Attempts))
		cmd.Status = StatusPending
		cmd.NotBefore = &eligible
		if err := d.repo.Update(ctx, cmd); err != nil {
			return nil, err
		}
		q.ids = append(q.ids, cmd.ID)

		d.logger.Warn("command attempt failed, requeued",
			"command_id", commandID, "device_id", cmd.DeviceID,
			"attempts", cmd.Attempts, "error", detail, "not_before", eligible)
		return cmd.DeepCopy(), nil
	}

	cmd.Status = StatusFailed
	cmd.CompletedAt = &now
	if err := d.repo.Update(ctx, cmd); err != nil {
		return nil, err
	}

	d.logger.Error("command failed terminally",
		"command_id", commandID, "device_id", cmd.DeviceID,
		"attempts", cmd.Attempts, "error", detail)
	d.emit(Event{Command: *cmd.DeepCopy()})
	return cmd.DeepCopy(), nil
}

// ReportTimeout records that a sent command received no acknowledgement
// within the delivery deadline. Identical to a failure outcome; a send
// that failed at the transport layer is reported the same way.
func (d *Dispatcher) ReportTimeout(ctx context.Context, commandID string) (*Command, error) {
	return d.ReportOutcome(ctx, commandID, Outcome{Error: "timeout"})
}

// ListPending returns a device's pending commands in submission order.
func (d *Dispatcher) ListPending(ctx context.Context, deviceID string) ([]Command, error) {
	return d.repo.ListByDeviceAndStatus(ctx, deviceID, StatusPending)
}

// Get retrieves a command by id.
func (d *Dispatcher) Get(ctx context.Context, commandID string) (*Command, error) {
	return d.repo.Get(ctx, commandID)
}

// RebuildQueues reloads delivery queues from persisted state. Called once
// at startup, before transports start.
//
// Pending commands re-enter their device's queue in submission order (the
// tail position of a command retried just before shutdown is not
// preserved). Commands stuck in sent lost their acknowledgement window in
// the restart, so the timeout policy is applied to them immediately:
// retry or terminal failure.
func (d *Dispatcher) RebuildQueues(ctx context.Context) error {
	pending, err := d.repo.ListByStatus(ctx, StatusPending)
	if err != nil {
		return fmt.Errorf("loading pending commands: %w", err)
	}
	for i := range pending {
		q := d.queue(pending[i].DeviceID)
		q.mu.Lock()
		q.ids = append(q.ids, pending[i].ID)
		q.mu.Unlock()
	}

	sent, err := d.repo.ListByStatus(ctx, StatusSent)
	if err != nil {
		return fmt.Errorf("loading in-flight commands: %w", err)
	}
	for i := range sent {
		if _, err := d.ReportTimeout(ctx, sent[i].ID); err != nil {
			d.logger.Warn("recovering in-flight command failed",
				"command_id", sent[i].ID, "error", err)
		}
	}

	if len(pending) > 0 || len(sent) > 0 {
		d.logger.Info("command queues rebuilt",
			"pending", len(pending), "in_flight_recovered", len(sent))
	}
	return nil
}

// backoff returns the retry delay after the given number of attempts.
// Doubles per attempt from the initial delay, capped at the maximum.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.opts.BackoffInitial
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.opts.BackoffMax {
			return d.opts.BackoffMax
		}
	}
	if delay > d.opts.BackoffMax {
		return d.opts.BackoffMax
	}
	return delay
}
