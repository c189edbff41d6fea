package command

import "time"

// Type identifies what a command asks the device to do.
type Type string

// Command types.
const (
	// TypeRead requests the current value of a resource.
	TypeRead Type = "read"

	// TypeWrite sets a resource to the supplied payload.
	TypeWrite Type = "write"

	// TypeExecute triggers a device-side action (reboot, diagnostics).
	TypeExecute Type = "execute"
)

// Valid reports whether t is a known command type.
func (t Type) Valid() bool {
	return t == TypeRead || t == TypeWrite || t == TypeExecute
}

// Status represents the delivery state of a command.
//
// Progression is pending -> sent -> {succeeded, failed}. A command returns
// from sent to pending only through the retry policy; succeeded and failed
// are terminal and immutable.
type Status string

// Status constants.
const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Command is one operator-issued request targeted at a device resource.
// This matches the commands table in the database schema.
type Command struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`

	// Target resource within the device's object model.
	ObjectID   int `json:"object_id"`
	ResourceID int `json:"resource_id"`

	Type    Type   `json:"type"`
	Payload string `json:"payload,omitempty"`

	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`

	// NotBefore is the retry backoff eligibility timestamp. A pending
	// command with a future NotBefore is not yet deliverable.
	NotBefore *time.Time `json:"not_before,omitempty"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DeepCopy creates an independent copy of the Command.
func (c *Command) DeepCopy() *Command {
	if c == nil {
		return nil
	}

	cpy := *c

	if c.NotBefore != nil {
		t := *c.NotBefore
		cpy.NotBefore = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cpy.CompletedAt = &t
	}

	return &cpy
}

// Outcome reports the result of one delivery attempt.
type Outcome struct {
	// Success indicates the device acknowledged the command.
	Success bool

	// Result carries the device's response payload on success
	// (read responses). Not persisted on the command record; callers
	// route read results into the resource store.
	Result string

	// Error describes the failure when Success is false.
	Error string
}

// Event is emitted when a command reaches a terminal state. The embedded
// Command is a snapshot taken after the transition was persisted.
type Event struct {
	Command Command
}
