// Package resource stores device telemetry as append-only observations
// alongside versioned resource descriptors.
//
// Gateways report their object model as numbered objects and resources
// (for example object 4 "connectivity", resource 2 "rssi"). A Descriptor
// names a resource and fixes how its payloads are decoded; a Value is one
// timestamped observation of it.
//
// # Ordering
//
// Observations arrive over a cellular link and can be delayed or replayed,
// so the store accepts out-of-order timestamps. Latest is defined by the
// device-reported observation time. Consumers needing strict ordering must
// compare timestamps themselves.
//
// # Schema changes
//
// A gateway that re-registers with a changed object model gets new
// descriptor versions. Old versions and old values are never rewritten;
// the newest version only governs how future payloads are interpreted.
//
// # Events
//
// Subscribers receive an Event after each durable value write. The alert
// evaluator uses this feed for threshold checks, and the telemetry mirror
// forwards accepted values to the time-series backend.
package resource
