// Package alert derives operator-facing health alerts from registration
// transitions and telemetry writes.
//
// Three conditions are tracked: offline (a registered gateway missed its
// lifetime), low_signal (RSSI below threshold), and high_error_rate
// (exchange failures above threshold). Each is raised idempotently: at
// most one unresolved alert per device and type exists at a time, backed
// by a partial unique index so the invariant holds even under races.
//
// Alerts resolve three ways: the condition clears (a stale gateway
// re-registers, signal recovers), the severity escalates (the warning is
// closed and a critical opened), or an operator acknowledges via Resolve.
package alert
