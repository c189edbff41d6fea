package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/command"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/mqtt"
	"github.com/cellfleet/cellfleet-core/internal/registry"
	"github.com/cellfleet/cellfleet-core/internal/resource"
)

// Logger defines the logging interface used by the transport layer.
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

// Bus is the MQTT surface the transport layer needs.
// *mqtt.Client satisfies it.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Registry is the registration surface consumed by the transport layer.
// *registry.Registry satisfies it.
type Registry interface {
	Register(ctx context.Context, req registry.RegisterRequest) (*registry.Device, error)
	Refresh(ctx context.Context, endpoint, address string) (*registry.Device, error)
	Deregister(ctx context.Context, endpoint string) (*registry.Device, error)
	Get(ctx context.Context, endpoint string) (*registry.Device, error)
	ListRegistered(ctx context.Context) ([]registry.Device, error)
}

// ValueStore is the resource surface consumed by the transport layer.
// *resource.Store satisfies it.
type ValueStore interface {
	RecordValue(ctx context.Context, deviceID string, objectID, resourceID int, value string, observedAt time.Time) (*resource.Value, error)
}

// Dispatcher is the command surface consumed by the transport layer.
// *command.Dispatcher satisfies it.
type Dispatcher interface {
	NextToSend(ctx context.Context, deviceID string) (*command.Command, error)
	ReportOutcome(ctx context.Context, commandID string, outcome command.Outcome) (*command.Command, error)
	ReportTimeout(ctx context.Context, commandID string) (*command.Command, error)
	Get(ctx context.Context, commandID string) (*command.Command, error)
}

// Listener routes inbound gateway messages to the core components.
//
// One subscription per message category, wildcarded on the endpoint
// segment. Each message is one unit of work on a paho handler goroutine;
// a failure affects that message only and is logged, never fatal.
type Listener struct {
	bus        Bus
	registry   Registry
	store      ValueStore
	dispatcher Dispatcher
	qos        byte

	logger Logger
}

// NewListener creates a transport listener.
func NewListener(bus Bus, reg Registry, store ValueStore, dispatcher Dispatcher, qos byte) *Listener {
	return &Listener{
		bus:        bus,
		registry:   reg,
		store:      store,
		dispatcher: dispatcher,
		qos:        qos,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the listener.
func (l *Listener) SetLogger(logger Logger) {
	l.logger = logger
}

// Start subscribes to all inbound topic categories.
func (l *Listener) Start() error {
	topics := mqtt.Topics{}

	subscriptions := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.AllRegistrations(), l.handleRegister},
		{topics.AllUpdates(), l.handleUpdate},
		{topics.AllDeregistrations(), l.handleDeregister},
		{topics.AllNotifications(), l.handleNotify},
		{topics.AllAcks(), l.handleAck},
	}

	for _, sub := range subscriptions {
		if err := l.bus.Subscribe(sub.topic, l.qos, sub.handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
	}

	l.logger.Info("transport listener started", "subscriptions", len(subscriptions))
	return nil
}

// Stop removes the inbound subscriptions.
func (l *Listener) Stop() {
	topics := mqtt.Topics{}
	for _, topic := range []string{
		topics.AllRegistrations(),
		topics.AllUpdates(),
		topics.AllDeregistrations(),
		topics.AllNotifications(),
		topics.AllAcks(),
	} {
		if err := l.bus.Unsubscribe(topic); err != nil {
			l.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (l *Listener) handleRegister(topic string, payload []byte) error {
	endpoint := mqtt.EndpointFromTopic(topic)
	if endpoint == "" {
		return fmt.Errorf("registration on malformed topic %s", topic)
	}

	var msg RegisterMessage
	if err := decode(topic, payload, &msg); err != nil {
		return err
	}

	_, err := l.registry.Register(context.Background(), registry.RegisterRequest{
		Endpoint:        endpoint,
		Address:         msg.Address,
		LifetimeSeconds: msg.Lifetime,
		ProtocolVersion: msg.Version,
		Binding:         msg.Binding,
	})
	if err != nil {
		return fmt.Errorf("registering %s: %w", endpoint, err)
	}
	return nil
}

func (l *Listener) handleUpdate(topic string, payload []byte) error {
	endpoint := mqtt.EndpointFromTopic(topic)
	if endpoint == "" {
		return fmt.Errorf("update on malformed topic %s", topic)
	}

	var msg UpdateMessage
	if len(payload) > 0 {
		if err := decode(topic, payload, &msg); err != nil {
			return err
		}
	}

	_, err := l.registry.Refresh(context.Background(), endpoint, msg.Address)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			// Unknown or deregistered: the gateway must re-register
			// from scratch. Not an error worth more than a log line.
			l.logger.Info("refresh from unknown endpoint ignored", "endpoint", endpoint)
			return nil
		}
		return fmt.Errorf("refreshing %s: %w", endpoint, err)
	}
	return nil
}

func (l *Listener) handleDeregister(topic string, _ []byte) error {
	endpoint := mqtt.EndpointFromTopic(topic)
	if endpoint == "" {
		return fmt.Errorf("deregistration on malformed topic %s", topic)
	}

	_, err := l.registry.Deregister(context.Background(), endpoint)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			l.logger.Info("deregistration from unknown endpoint ignored", "endpoint", endpoint)
			return nil
		}
		return fmt.Errorf("deregistering %s: %w", endpoint, err)
	}
	return nil
}

func (l *Listener) handleNotify(topic string, payload []byte) error {
	endpoint := mqtt.EndpointFromTopic(topic)
	if endpoint == "" {
		return fmt.Errorf("notification on malformed topic %s", topic)
	}

	var msg NotifyMessage
	if err := decode(topic, payload, &msg); err != nil {
		return err
	}
	if len(msg.Value) == 0 {
		return fmt.Errorf("notification from %s missing value", endpoint)
	}

	ctx := context.Background()

	device, err := l.registry.Get(ctx, endpoint)
	if err != nil {
		l.logger.Info("notification from unknown endpoint dropped", "endpoint", endpoint)
		return nil
	}

	_, err = l.store.RecordValue(ctx, device.ID, msg.ObjectID, msg.ResourceID, string(msg.Value), msg.ObservedAt)
	if err != nil {
		// Best-effort: a missed telemetry point is not fatal.
		l.logger.Warn("recording notification failed",
			"endpoint", endpoint, "object_id", msg.ObjectID, "resource_id", msg.ResourceID, "error", err)
	}
	return nil
}

func (l *Listener) handleAck(topic string, payload []byte) error {
	endpoint := mqtt.EndpointFromTopic(topic)
	if endpoint == "" {
		return fmt.Errorf("acknowledgement on malformed topic %s", topic)
	}

	var msg AckMessage
	if err := decode(topic, payload, &msg); err != nil {
		return err
	}
	if msg.CommandID == "" {
		return fmt.Errorf("acknowledgement from %s missing command id", endpoint)
	}

	ctx := context.Background()

	cmd, err := l.dispatcher.ReportOutcome(ctx, msg.CommandID, command.Outcome{
		Success: msg.Success,
		Result:  string(msg.Result),
		Error:   msg.Error,
	})
	if err != nil {
		if errors.Is(err, command.ErrCommandNotFound) {
			l.logger.Info("acknowledgement for unknown command ignored",
				"endpoint", endpoint, "command_id", msg.CommandID)
			return nil
		}
		return fmt.Errorf("recording outcome for %s: %w", msg.CommandID, err)
	}

	// A successful read response doubles as an observation.
	if msg.Success && len(msg.Result) > 0 && cmd.Type == command.TypeRead {
		if _, err := l.store.RecordValue(ctx, cmd.DeviceID, cmd.ObjectID, cmd.ResourceID, string(msg.Result), time.Now().UTC()); err != nil {
			l.logger.Warn("recording read response failed",
				"command_id", cmd.ID, "error", err)
		}
	}
	return nil
}
