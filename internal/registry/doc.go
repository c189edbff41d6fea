// Package registry tracks which gateways in the fleet are currently
// reachable. It owns the registration state machine:
//
//	unregistered --register--> registered --sweep(timeout)--> stale --refresh--> registered
//	registered|stale --deregister--> deregistered --register--> registered (new epoch)
//
// Device records are soft state: they are created on first registration
// and never destroyed. Deregistration closes the current registration
// epoch; a later registration opens a new one, preserving the lifecycle
// history for audit.
//
// # Concurrency
//
// Transitions for a single endpoint are strictly ordered by a per-endpoint
// lock; operations on different endpoints proceed in parallel. The
// background Sweeper degrades registered devices to stale when their
// lifetime elapses without a refresh, re-checking each candidate under
// its endpoint lock so a concurrent refresh always wins.
//
// # Events
//
// Subscribers receive device-registered, device-stale, and
// device-deregistered events, emitted exactly once per transition after
// the state change has been persisted. The alert evaluator consumes these
// to raise and auto-resolve offline alerts.
package registry
