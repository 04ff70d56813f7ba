// Package notifier delivers toasts to the members of a space.
//
// # Transport
//
// Delivery is delegated to a Dispatcher (log, webhook or telegram). The
// Service in front of it centralizes throttling, per-call timeouts, metrics
// and lifecycle events so the scheduler never depends on a specific
// messaging platform.
//
// Delivery is a single best-effort attempt: failures are returned to the
// caller, never retried.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recent dispatches.
package notifier
