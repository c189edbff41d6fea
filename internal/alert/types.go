package alert

import "time"

// Type classifies what condition an alert describes.
type Type string

// Alert types.
const (
	// TypeOffline is raised when a registered gateway goes stale.
	TypeOffline Type = "offline"

	// TypeLowSignal is raised when reported signal strength drops below
	// the configured threshold.
	TypeLowSignal Type = "low_signal"

	// TypeHighErrorRate is raised when the reported exchange error rate
	// exceeds the configured threshold.
	TypeHighErrorRate Type = "high_error_rate"
)

// Severity grades an alert.
type Severity string

// Severity constants.
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a derived fact about a device's health. At most one unresolved
// alert exists per device and type; raising the same condition again while
// one is open is a no-op.
type Alert struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Type       Type       `json:"alert_type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	IsResolved bool       `json:"is_resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
