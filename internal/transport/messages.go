package transport

import (
	"encoding/json"
	"fmt"
	"time"
)

// RegisterMessage is the payload of cellfleet/reg/{endpoint}.
type RegisterMessage struct {
	// Lifetime in seconds; 0 lets the core apply its default.
	Lifetime int64 `json:"lifetime"`

	// Version is the protocol version the gateway speaks.
	Version string `json:"version,omitempty"`

	// Binding is the transport binding the gateway requests (U, UQ, T).
	Binding string `json:"binding,omitempty"`

	// Address is the gateway's current source address.
	Address string `json:"address,omitempty"`
}

// UpdateMessage is the payload of cellfleet/update/{endpoint}.
// An empty payload is a bare liveness refresh.
type UpdateMessage struct {
	Address string `json:"address,omitempty"`
}

// NotifyMessage is the payload of cellfleet/notify/{endpoint}: one
// observed resource value. Value is carried as raw JSON typed per the
// resource descriptor's data type.
type NotifyMessage struct {
	ObjectID   int             `json:"object_id"`
	ResourceID int             `json:"resource_id"`
	Value      json.RawMessage `json:"value"`
	ObservedAt time.Time       `json:"observed_at"`
}

// AckMessage is the payload of cellfleet/ack/{endpoint}: the gateway's
// response to a delivered command.
type AckMessage struct {
	CommandID string `json:"command_id"`

	Success bool `json:"success"`

	// Result carries the response payload on success (read responses),
	// raw JSON typed per the target resource's data type.
	Result json.RawMessage `json:"result,omitempty"`

	// Error describes the failure when Success is false.
	Error string `json:"error,omitempty"`
}

// CommandMessage is the payload published to cellfleet/cmd/{endpoint}.
type CommandMessage struct {
	ID         string `json:"id"`
	ObjectID   int    `json:"object_id"`
	ResourceID int    `json:"resource_id"`
	Type       string `json:"type"`
	Payload    string `json:"payload,omitempty"`
}

// decode unmarshals a JSON payload, wrapping the error with the topic
// for log context.
func decode(topic string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", topic, err)
	}
	return nil
}
