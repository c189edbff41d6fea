package resource

import "time"

// Kind classifies a resource within a device's object model.
type Kind string

// Kind constants.
const (
	// KindVariable is read-only telemetry reported by the device.
	KindVariable Kind = "variable"

	// KindSetting is a read/write configuration point.
	KindSetting Kind = "setting"
)

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	return k == KindVariable || k == KindSetting
}

// Data type constants for descriptor payload interpretation. Values are
// carried as JSON-typed payloads; the data type tells consumers how to
// decode them.
const (
	DataTypeFloat   = "float"
	DataTypeInteger = "integer"
	DataTypeString  = "string"
	DataTypeBoolean = "boolean"
	DataTypeOpaque  = "opaque"
)

// Descriptor describes one resource of a device's object model.
// Descriptors are immutable once created: re-registration with a changed
// schema inserts a new version. The newest version governs how future
// values are interpreted; past values are never reinterpreted.
type Descriptor struct {
	DeviceID   string    `json:"device_id"`
	ObjectID   int       `json:"object_id"`
	ResourceID int       `json:"resource_id"`
	Version    int       `json:"version"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	DataType   string    `json:"data_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Value is one timestamped observation of a device resource.
//
// ObservedAt is the device-reported timestamp and defines "latest";
// RecordedAt is when the row was appended. Out-of-order observations are
// accepted, so the two can disagree.
type Value struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	ObjectID   int       `json:"object_id"`
	ResourceID int       `json:"resource_id"`
	Value      string    `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Event is emitted after a value write was durably recorded.
type Event struct {
	Value Value
}
