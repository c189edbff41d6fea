package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
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

// Options configure registration lifetime handling.
type Options struct {
	// DefaultLifetimeSeconds is applied when a device registers without
	// a lifetime. Zero selects the built-in default of 86400 (24h).
	DefaultLifetimeSeconds int64

	// MaxLifetimeSeconds clamps device-requested lifetimes.
	// Zero disables clamping.
	MaxLifetimeSeconds int64
}

const defaultLifetimeSeconds = 86400

// Registry owns device liveness transitions. It keeps an in-memory table
// of known devices backed by persistent Device records, and guarantees
// that transitions for a single endpoint are strictly ordered via
// per-endpoint locks: operations on device A never block device B.
//
// State machine:
//
//	unregistered --register--> registered --sweep(timeout)--> stale --refresh--> registered
//	registered|stale --deregister--> deregistered --register--> registered (new epoch)
//
// A transition is complete only after the repository write succeeds; the
// cache never diverges from what was durably recorded.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository
	opts Options

	locks *endpointLocks

	cache   map[string]*Device // Cached devices by endpoint
	cacheMu sync.RWMutex       // Protects cache

	subscribers []func(Event)
	subMu       sync.RWMutex

	logger Logger
}

// New creates a device registry.
// The repository is used for persistence; the registry adds the in-memory
// table and transition ordering.
func New(repo Repository, opts Options) *Registry {
	if opts.DefaultLifetimeSeconds <= 0 {
		opts.DefaultLifetimeSeconds = defaultLifetimeSeconds
	}
	return &Registry{
		repo:   repo,
		opts:   opts,
		locks:  newEndpointLocks(),
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Subscribe registers a callback for registration transitions.
// Callbacks run synchronously on the transitioning goroutine while the
// device's lock is held, so per-device event order matches transition
// order. Handlers must not call back into the Registry for the same
// endpoint and must not perform network I/O.
//
// Subscribe is not safe to call concurrently with transitions; wire all
// subscribers during startup.
func (r *Registry) Subscribe(fn func(Event)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *Registry) emit(evt Event) {
	r.subMu.RLock()
	subs := r.subscribers
	r.subMu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// RefreshCache reloads all devices from the repository into the in-memory
// table. This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.Endpoint] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Register creates or reopens the device record for an endpoint.
//
// A new endpoint creates a record in state registered (epoch 1). A stale
// or deregistered record transitions back to registered, updating address,
// lifetime, version, and binding; re-registration after deregister opens a
// new epoch. Registering an already-registered endpoint is treated as an
// update: fields and lastSeenAt refresh with no state change.
//
// Emits a device-registered event exactly once per transition into
// registered from a non-registered state.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Device, error) {
	if err := validateEndpoint(req.Endpoint); err != nil {
		return nil, err
	}
	lifetime := r.clampLifetime(req.LifetimeSeconds)

	unlock := r.locks.lock(req.Endpoint)
	defer unlock()

	now := time.Now().UTC()

	device, err := r.repo.GetByEndpoint(ctx, req.Endpoint)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		device = &Device{
			ID:               GenerateID(),
			Endpoint:         req.Endpoint,
			LastKnownAddress: req.Address,
			State:            StateRegistered,
			LifetimeSeconds:  lifetime,
			ProtocolVersion:  req.ProtocolVersion,
			Binding:          req.Binding,
			LastSeenAt:       &now,
			Epoch:            1,
		}
		if err := r.repo.Create(ctx, device); err != nil {
			return nil, err
		}
		if err := r.repo.OpenEpoch(ctx, device.ID, device.Epoch, now); err != nil {
			r.logger.Warn("opening registration epoch failed", "endpoint", req.Endpoint, "error", err)
		}
		r.cacheDevice(device)
		r.logger.Info("device registered", "endpoint", device.Endpoint, "lifetime_s", lifetime)
		r.emit(Event{Type: EventRegistered, Device: *device.DeepCopy()})
		return device.DeepCopy(), nil

	case err != nil:
		return nil, err
	}

	prev := device.State
	device.LastKnownAddress = req.Address
	device.LifetimeSeconds = lifetime
	device.ProtocolVersion = req.ProtocolVersion
	device.Binding = req.Binding
	device.LastSeenAt = &now
	device.State = StateRegistered
	if prev == StateDeregistered {
		device.Epoch++
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return nil, err
	}
	if prev == StateDeregistered {
		if err := r.repo.OpenEpoch(ctx, device.ID, device.Epoch, now); err != nil {
			r.logger.Warn("opening registration epoch failed", "endpoint", req.Endpoint, "error", err)
		}
	}
	r.cacheDevice(device)

	if prev != StateRegistered {
		r.logger.Info("device re-registered", "endpoint", device.Endpoint, "previous_state", prev, "epoch", device.Epoch)
		r.emit(Event{Type: EventRegistered, Device: *device.DeepCopy()})
	} else {
		r.logger.Debug("registration update", "endpoint", device.Endpoint)
	}

	return device.DeepCopy(), nil
}

// Refresh extends a device's liveness window.
//
// Valid only while the device is registered or stale: lastSeenAt is set
// to now, a stale device transitions back to registered, and the address
// updates if supplied. Returns ErrDeviceNotFound for unknown or
// deregistered endpoints; those devices must re-register from scratch.
func (r *Registry) Refresh(ctx context.Context, endpoint, address string) (*Device, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(endpoint)
	defer unlock()

	device, err := r.repo.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if device.State == StateDeregistered {
		return nil, ErrDeviceNotFound
	}

	now := time.Now().UTC()
	prev := device.State
	device.LastSeenAt = &now
	device.State = StateRegistered
	if address != "" {
		device.LastKnownAddress = address
	}

	if err := r.repo.Update(ctx, device); err != nil {
		return nil, err
	}
	r.cacheDevice(device)

	if prev == StateStale {
		r.logger.Info("stale device refreshed", "endpoint", endpoint)
		r.emit(Event{Type: EventRegistered, Device: *device.DeepCopy()})
	} else {
		r.logger.Debug("device refreshed", "endpoint", endpoint)
	}

	return device.DeepCopy(), nil
}

// Deregister transitions a device to deregistered.
//
// Idempotent: deregistering an already-deregistered device succeeds
// silently. Returns ErrDeviceNotFound only for endpoints that were
// never registered.
func (r *Registry) Deregister(ctx context.Context, endpoint string) (*Device, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(endpoint)
	defer unlock()

	device, err := r.repo.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if device.State == StateDeregistered {
		return device.DeepCopy(), nil
	}

	now := time.Now().UTC()
	device.State = StateDeregistered

	if err := r.repo.Update(ctx, device); err != nil {
		return nil, err
	}
	if err := r.repo.CloseEpoch(ctx, device.ID, device.Epoch, now, "deregister"); err != nil {
		r.logger.Warn("closing registration epoch failed", "endpoint", endpoint, "error", err)
	}
	r.cacheDevice(device)

	r.logger.Info("device deregistered", "endpoint", endpoint)
	r.emit(Event{Type: EventDeregistered, Device: *device.DeepCopy()})

	return device.DeepCopy(), nil
}

// SweepStale degrades registered devices whose lifetime elapsed without a
// refresh and returns the devices that transitioned. This is the sole path
// by which liveness degrades without an explicit deregistration.
//
// Each device's check-and-transition runs under that device's lock, so the
// sweep is safe to run concurrently with registrations. A persistence
// failure on one device is logged and does not abort the sweep.
func (r *Registry) SweepStale(ctx context.Context, now time.Time) ([]Device, error) {
	candidates, err := r.repo.ListByState(ctx, StateRegistered)
	if err != nil {
		return nil, fmt.Errorf("listing registered devices: %w", err)
	}

	var swept []Device
	for i := range candidates {
		endpoint := candidates[i].Endpoint

		unlock := r.locks.lock(endpoint)

		device, err := r.repo.GetByEndpoint(ctx, endpoint)
		if err != nil {
			unlock()
			r.logger.Warn("sweep: loading device failed", "endpoint", endpoint, "error", err)
			continue
		}

		// Re-check under the lock: a concurrent refresh may have won.
		if device.State != StateRegistered || device.IsLive(now) {
			unlock()
			continue
		}

		device.State = StateStale
		if err := r.repo.Update(ctx, device); err != nil {
			unlock()
			r.logger.Warn("sweep: persisting stale transition failed", "endpoint", endpoint, "error", err)
			continue
		}
		r.cacheDevice(device)

		r.logger.Info("device went stale", "endpoint", endpoint, "last_seen_at", device.LastSeenAt)
		r.emit(Event{Type: EventStale, Device: *device.DeepCopy()})
		swept = append(swept, *device.DeepCopy())

		unlock()
	}

	return swept, nil
}

// Get retrieves a device by endpoint.
// Returns ErrDeviceNotFound if the endpoint was never registered.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, endpoint string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[endpoint]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByEndpoint(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	r.cacheDevice(device)
	return device.DeepCopy(), nil
}

// GetByID retrieves a device by its system-generated identifier.
func (r *Registry) GetByID(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	for _, d := range r.cache {
		if d.ID == id {
			cpy := d.DeepCopy()
			r.cacheMu.RUnlock()
			return cpy, nil
		}
	}
	r.cacheMu.RUnlock()

	return r.repo.GetByID(ctx, id)
}

// ListRegistered retrieves all currently registered devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListRegistered(ctx context.Context) ([]Device, error) {
	return r.repo.ListByState(ctx, StateRegistered)
}

// List retrieves all known devices regardless of state.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	return r.repo.List(ctx)
}

// Epochs returns a device's registration epochs, newest first.
func (r *Registry) Epochs(ctx context.Context, deviceID string) ([]Epoch, error) {
	return r.repo.ListEpochs(ctx, deviceID)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByState      map[State]int
}

// GetStats returns current registry statistics from the in-memory table.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByState:      make(map[State]int),
	}
	for _, d := range r.cache {
		stats.ByState[d.State]++
	}
	return stats
}

// cacheDevice stores a deep copy in the in-memory table.
func (r *Registry) cacheDevice(device *Device) {
	r.cacheMu.Lock()
	r.cache[device.Endpoint] = device.DeepCopy()
	r.cacheMu.Unlock()
}

// clampLifetime applies the default and maximum lifetime bounds.
func (r *Registry) clampLifetime(lifetime int64) int64 {
	if lifetime <= 0 {
		return r.opts.DefaultLifetimeSeconds
	}
	if r.opts.MaxLifetimeSeconds > 0 && lifetime > r.opts.MaxLifetimeSeconds {
		return r.opts.MaxLifetimeSeconds
	}
	return lifetime
}

// validateEndpoint rejects empty endpoints and endpoints that cannot be
// carried in a topic segment.
func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return ErrInvalidEndpoint
	}
	if strings.ContainsAny(endpoint, "/#+") {
		return fmt.Errorf("%w: %q contains a topic separator", ErrInvalidEndpoint, endpoint)
	}
	return nil
}
