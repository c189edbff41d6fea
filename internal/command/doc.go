// Package command implements the operator command lifecycle for the
// device fleet.
//
// A command targets one resource of one device (read, write, or execute).
// Submission requires only that the device record exists: commands queued
// against a stale gateway wait until it reconnects. Delivery is FIFO per
// device, pulled by the transport layer via NextToSend, which also
// transitions the command to sent and stamps the attempt.
//
// # Retry policy
//
// A failed or timed-out attempt below the attempt limit returns the
// command to pending at the tail of its device's queue, eligible again
// after an exponential backoff. Re-entering at the tail means a
// later-submitted command can overtake a retried one; strict per-command
// ordering was traded for simplicity and lower head-of-line latency.
// At the attempt limit the command fails terminally.
//
// # Durability
//
// Every status transition is persisted before it is considered complete,
// and queues are rebuilt from persisted pending commands at startup.
// Commands that were in flight when the process stopped are recovered
// through the timeout policy.
package command
