package audit

import (
	"context"

	"github.com/cellfleet/cellfleet-core/internal/command"
	"github.com/cellfleet/cellfleet-core/internal/registry"
)

// Logger defines the logging interface used by the Recorder.
// Compatible with slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder translates registration and command lifecycle events into
// audit trail entries. Writes are best effort: a failed audit insert is
// logged and never propagated back to the emitting subsystem.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder writing to the given repository.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// HandleRegistryEvent records a registration state transition.
func (r *Recorder) HandleRegistryEvent(ctx context.Context, event registry.Event) {
	var action string
	switch event.Type {
	case registry.EventRegistered:
		action = ActionRegistered
	case registry.EventStale:
		action = ActionStale
	case registry.EventDeregistered:
		action = ActionDeregistered
	default:
		return
	}

	r.write(ctx, &AuditLog{
		Action:     action,
		EntityType: EntityDevice,
		EntityID:   event.Device.ID,
		Source:     "registry",
		Details: map[string]any{
			"endpoint": event.Device.Endpoint,
			"epoch":    event.Device.Epoch,
		},
	})
}

// HandleCommandEvent records a command reaching a terminal state.
func (r *Recorder) HandleCommandEvent(ctx context.Context, event command.Event) {
	cmd := event.Command

	action := ActionCommandFailed
	details := map[string]any{
		"device_id":   cmd.DeviceID,
		"object_id":   cmd.ObjectID,
		"resource_id": cmd.ResourceID,
		"type":        string(cmd.Type),
		"attempts":    cmd.Attempts,
	}
	if cmd.Status == command.StatusSucceeded {
		action = ActionCommandSucceeded
	} else if cmd.LastError != "" {
		details["error"] = cmd.LastError
	}

	r.write(ctx, &AuditLog{
		Action:     action,
		EntityType: EntityCommand,
		EntityID:   cmd.ID,
		Source:     "dispatcher",
		Details:    details,
	})
}

func (r *Recorder) write(ctx context.Context, log *AuditLog) {
	if err := r.repo.Create(ctx, log); err != nil {
		r.logger.Warn("audit write failed",
			"action", log.Action, "entity_id", log.EntityID, "error", err)
	}
}
