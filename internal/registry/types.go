package registry

import "time"

// Device represents a cellular gateway known to the fleet.
// This matches the database schema in migrations/20260315_120000_initial_schema.up.sql.
//
// The endpoint is the device-chosen stable identity (serial-derived URN for
// most hardware); at most one record exists per endpoint. Records are never
// destroyed: deregistration is a soft state and a later registration reopens
// the record under a new epoch.
type Device struct {
	// Identity
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`

	// Reachability
	LastKnownAddress string `json:"last_known_address,omitempty"`

	// Liveness
	State           State      `json:"registration_state"`
	LifetimeSeconds int64      `json:"lifetime_seconds"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`

	// Protocol details reported at registration
	ProtocolVersion string `json:"protocol_version,omitempty"`
	Binding         string `json:"binding,omitempty"`

	// Epoch increments each time a deregistered endpoint registers again.
	Epoch int64 `json:"epoch"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates an independent copy of the Device.
// The pointer field is cloned so modifications to the copy do not
// affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		cpy.LastSeenAt = &t
	}

	return &cpy
}

// IsLive reports whether the device is presumed reachable at the given time.
// A device with no recorded last-seen timestamp is never live.
func (d *Device) IsLive(now time.Time) bool {
	if d.State != StateRegistered || d.LastSeenAt == nil {
		return false
	}
	return now.Sub(*d.LastSeenAt) <= time.Duration(d.LifetimeSeconds)*time.Second
}

// State represents the registration liveness state of a device.
// The unregistered state is implicit: no record exists for the endpoint.
type State string

// State constants.
const (
	StateRegistered   State = "registered"
	StateStale        State = "stale"
	StateDeregistered State = "deregistered"
)

// AllStates returns all valid registration state values.
func AllStates() []State {
	return []State{StateRegistered, StateStale, StateDeregistered}
}

// Epoch records one registration lifecycle of a device: opened on the
// transition into registered from deregistered (or first creation) and
// closed on deregistration. Rows are append-only.
type Epoch struct {
	ID          string     `json:"id"`
	DeviceID    string     `json:"device_id"`
	Epoch       int64      `json:"epoch"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
}

// EventType identifies a registration lifecycle transition.
type EventType string

// Event types emitted by the Registry.
const (
	// EventRegistered fires exactly once per transition into registered
	// from a non-registered state (including first creation).
	EventRegistered EventType = "device-registered"

	// EventStale fires when the sweeper degrades a registered device
	// whose lifetime elapsed without a refresh.
	EventStale EventType = "device-stale"

	// EventDeregistered fires on explicit deregistration.
	EventDeregistered EventType = "device-deregistered"
)

// Event describes a single registration transition. The embedded Device
// is a snapshot taken after the transition was persisted.
type Event struct {
	Type   EventType
	Device Device
}

// RegisterRequest carries the fields a device presents when registering.
type RegisterRequest struct {
	Endpoint        string
	Address         string
	LifetimeSeconds int64
	ProtocolVersion string
	Binding         string
}
