package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
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

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Store owns a device fleet's resource observations and descriptors.
//
// Values are append-only: out-of-order timestamps are accepted and "latest"
// is defined by the device-reported observation time, not insertion order.
// Descriptors are versioned, never mutated; the newest version governs how
// future values are interpreted.
//
// All public methods are thread-safe. Descriptor upserts for one device are
// serialised by a per-device lock; value appends need no exclusion.
type Store struct {
	repo Repository

	locks *deviceLocks

	subscribers []func(Event)
	subMu       sync.RWMutex

	logger Logger
}

// NewStore creates a resource store over the given repository.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		locks:  newDeviceLocks(),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Subscribe registers a callback for durably recorded value writes.
// Callbacks run synchronously on the recording goroutine; handlers must not
// perform network I/O. Wire all subscribers during startup.
func (s *Store) Subscribe(fn func(Event)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) emit(evt Event) {
	s.subMu.RLock()
	subs := s.subscribers
	s.subMu.RUnlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// RecordValue appends one observation. The write always succeeds for valid
// input regardless of timestamp ordering; an observation older than the
// current latest simply never surfaces from Latest.
func (s *Store) RecordValue(ctx context.Context, deviceID string, objectID, resourceID int, value string, observedAt time.Time) (*Value, error) {
	if deviceID == "" || value == "" {
		return nil, ErrInvalidValue
	}
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	v := &Value{
		DeviceID:   deviceID,
		ObjectID:   objectID,
		ResourceID: resourceID,
		Value:      value,
		ObservedAt: observedAt.UTC(),
		RecordedAt: time.Now().UTC(),
	}

	if err := s.repo.AppendValue(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Debug("resource value recorded",
		"device_id", deviceID, "object_id", objectID, "resource_id", resourceID)
	s.emit(Event{Value: *v})

	return v, nil
}

// Latest returns the most recent observation for a resource, as defined by
// the device-reported observation time.
func (s *Store) Latest(ctx context.Context, deviceID string, objectID, resourceID int) (*Value, error) {
	return s.repo.LatestValue(ctx, deviceID, objectID, resourceID)
}

// History returns observations newest first, at most limit rows.
// A non-positive limit selects the default of 50; the limit is capped at
// 500. A non-nil since bounds the result to observations at or after it.
func (s *Store) History(ctx context.Context, deviceID string, objectID, resourceID, limit int, since *time.Time) ([]Value, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.History(ctx, deviceID, objectID, resourceID, limit, since)
}

// Describe registers or updates the descriptor for a resource.
//
// The first call for a resource creates version 1. A later call with
// identical name, kind, and data type is a no-op returning the existing
// version. A call that differs inserts the next version; earlier versions
// and already-recorded values are left untouched.
func (s *Store) Describe(ctx context.Context, deviceID string, objectID, resourceID int, name string, kind Kind, dataType string) (*Descriptor, error) {
	if deviceID == "" || name == "" || dataType == "" || !kind.Valid() {
		return nil, fmt.Errorf("%w: name=%q kind=%q data_type=%q", ErrInvalidDescriptor, name, kind, dataType)
	}

	unlock := s.locks.lock(deviceID)
	defer unlock()

	current, err := s.repo.LatestDescriptor(ctx, deviceID, objectID, resourceID)
	switch {
	case errors.Is(err, ErrDescriptorNotFound):
		current = nil
	case err != nil:
		return nil, err
	default:
		if current.Name == name && current.Kind == kind && current.DataType == dataType {
			return current, nil
		}
	}

	next := &Descriptor{
		DeviceID:   deviceID,
		ObjectID:   objectID,
		ResourceID: resourceID,
		Version:    1,
		Name:       name,
		Kind:       kind,
		DataType:   dataType,
		CreatedAt:  time.Now().UTC(),
	}
	if current != nil {
		next.Version = current.Version + 1
	}

	if err := s.repo.InsertDescriptor(ctx, next); err != nil {
		return nil, err
	}

	if next.Version > 1 {
		s.logger.Info("resource descriptor superseded",
			"device_id", deviceID, "object_id", objectID, "resource_id", resourceID,
			"version", next.Version)
	}

	return next, nil
}

// Descriptor returns the newest descriptor version for a resource.
func (s *Store) Descriptor(ctx context.Context, deviceID string, objectID, resourceID int) (*Descriptor, error) {
	return s.repo.LatestDescriptor(ctx, deviceID, objectID, resourceID)
}

// Descriptors returns the newest descriptor version of every resource
// known for a device.
func (s *Store) Descriptors(ctx context.Context, deviceID string) ([]Descriptor, error) {
	return s.repo.ListDescriptors(ctx, deviceID)
}

// deviceLocks provides per-device mutual exclusion for descriptor upserts.
// Entries are reference-counted and removed once the last holder releases.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*lockEntry)}
}

func (l *deviceLocks) lock(deviceID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[deviceID]
	if !ok {
		entry = &lockEntry{}
		l.locks[deviceID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, deviceID)
		}
		l.mu.Unlock()
	}
}
