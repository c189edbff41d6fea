package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cellfleet/cellfleet-core/internal/command"
	"github.com/cellfleet/cellfleet-core/internal/infrastructure/mqtt"
)

const (
	defaultPumpInterval = time.Second
	defaultAckTimeout   = 30 * time.Second
)

// PumpOptions tune the delivery pump.
type PumpOptions struct {
	// Interval between delivery rounds. Zero selects 1s.
	Interval time.Duration

	// AckTimeout is how long a delivered command waits for an
	// acknowledgement before the timeout policy applies. Zero selects 30s.
	AckTimeout time.Duration

	// QoS for outbound command publishes.
	QoS byte
}

// Pump delivers queued commands to registered gateways.
//
// Each round it drains NextToSend for every registered device, publishes
// the command, and arms an acknowledgement deadline. The dispatcher's
// per-device locks are released before any publish happens; no in-memory
// lock is ever held across network I/O.
//
// A publish failure is a delivery failure: the transport could not get
// the command out, which is indistinguishable from a command that got
// out and was never answered, so both go through the same retry policy.
type Pump struct {
	bus        Bus
	registry   Registry
	dispatcher Dispatcher
	opts       PumpOptions

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	logger Logger
}

// NewPump creates a delivery pump.
func NewPump(bus Bus, reg Registry, dispatcher Dispatcher, opts PumpOptions) *Pump {
	if opts.Interval <= 0 {
		opts.Interval = defaultPumpInterval
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	return &Pump{
		bus:        bus,
		registry:   reg,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the pump.
func (p *Pump) SetLogger(logger Logger) {
	p.logger = logger
}

// Start launches the delivery loop.
func (p *Pump) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.deliverRound(ctx)
			}
		}
	}()

	p.logger.Info("delivery pump started",
		"interval", p.opts.Interval, "ack_timeout", p.opts.AckTimeout)
}

// Stop halts the delivery loop and waits for the current round to finish.
// Armed acknowledgement deadlines are abandoned; a restart recovers the
// affected commands through the dispatcher's queue rebuild.
func (p *Pump) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

// deliverRound drains deliverable commands for every registered device.
func (p *Pump) deliverRound(ctx context.Context) {
	devices, err := p.registry.ListRegistered(ctx)
	if err != nil {
		p.logger.Warn("listing registered devices failed", "error", err)
		return
	}

	for i := range devices {
		if ctx.Err() != nil {
			return
		}
		p.drainDevice(ctx, devices[i].ID, devices[i].Endpoint)
	}
}

// drainDevice delivers the device's deliverable commands one at a time.
func (p *Pump) drainDevice(ctx context.Context, deviceID, endpoint string) {
	for {
		cmd, err := p.dispatcher.NextToSend(ctx, deviceID)
		if err != nil {
			p.logger.Warn("pulling next command failed", "device_id", deviceID, "error", err)
			return
		}
		if cmd == nil {
			return
		}

		if err := p.publish(endpoint, cmd); err != nil {
			p.logger.Warn("command publish failed",
				"command_id", cmd.ID, "endpoint", endpoint, "error", err)
			if _, err := p.dispatcher.ReportOutcome(ctx, cmd.ID, command.Outcome{
				Error: err.Error(),
			}); err != nil {
				p.logger.Error("recording publish failure failed", "command_id", cmd.ID, "error", err)
			}
			// The broker link is down; later commands would fail too.
			return
		}

		p.logger.Debug("command delivered",
			"command_id", cmd.ID, "endpoint", endpoint, "attempt", cmd.Attempts)
		p.armDeadline(ctx, cmd.ID, cmd.Attempts)
	}
}

// publish serialises and sends one command to the device's topic.
func (p *Pump) publish(endpoint string, cmd *command.Command) error {
	msg := CommandMessage{
		ID:         cmd.ID,
		ObjectID:   cmd.ObjectID,
		ResourceID: cmd.ResourceID,
		Type:       string(cmd.Type),
		Payload:    cmd.Payload,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	topic := mqtt.Topics{}.Command(endpoint)
	if err := p.bus.Publish(topic, payload, p.opts.QoS, false); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// armDeadline schedules the acknowledgement timeout for one delivery
// attempt. The attempt number is captured so a deadline left over from an
// earlier attempt can never time out a later one: when the timer fires,
// the command must still be sent on the same attempt or nothing happens.
func (p *Pump) armDeadline(ctx context.Context, commandID string, attempt int) {
	time.AfterFunc(p.opts.AckTimeout, func() {
		// After Stop the timer may still fire once; the context check
		// keeps it from acting.
		if ctx.Err() != nil {
			return
		}

		cmd, err := p.dispatcher.Get(context.Background(), commandID)
		if err != nil {
			p.logger.Warn("deadline check failed", "command_id", commandID, "error", err)
			return
		}
		if cmd.Status != command.StatusSent || cmd.Attempts != attempt {
			// Acknowledged or already retried; nothing to do.
			return
		}

		p.logger.Warn("command acknowledgement deadline elapsed",
			"command_id", commandID, "attempt", attempt)
		if _, err := p.dispatcher.ReportTimeout(context.Background(), commandID); err != nil {
			p.logger.Error("recording timeout failed", "command_id", commandID, "error", err)
		}
	})
}
