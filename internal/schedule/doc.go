// Package schedule implements scheduled toasts: validation, durable
// persistence, one-shot calendar triggers, cancellation and the
// reconciliation sweep that rebuilds volatile triggers from the store.
//
// A scheduled toast is stored at <tenant>/messages/<author>/<job> and armed
// as a recurring cron descriptor "m h dom month *" in the canonical zone.
// The descriptor is disarmed by the first fire that delivers it, so it
// behaves as a one-shot.
//
// Fire and cancel for the same job serialize on a per-job lock; whichever
// runs first wins and the other observes the entry as gone.
package schedule
