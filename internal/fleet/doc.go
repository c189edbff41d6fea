// Package fleet is the composition root for the device registration and
// command dispatch subsystem.
//
// Service wires the registry, resource store, command dispatcher, alert
// evaluator, audit recorder and MQTT transport into one constructible
// unit with an explicit Start/Stop lifecycle. Operator functionality
// (submitting commands, inspecting devices, resolving alerts) is exposed
// as methods on Service rather than through a network API.
//
// Event flow between components is wired here: registration transitions
// feed the alert evaluator and the audit trail, accepted resource values
// feed the evaluator and the telemetry mirror, and terminal command
// states feed the audit trail and the telemetry mirror.
package fleet
