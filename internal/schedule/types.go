package schedule

import (
	"context"
	"time"

	"toastd/internal/notifier"
)

// Notification is a persisted scheduled toast. Entries are immutable: they
// are created by Schedule and destroyed by a fire or a cancel.
type Notification struct {
	JobID       string    `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	AuthorID    string    `json:"author_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduleRequest asks for a toast at a future wall-clock time.
//
// ScheduledAt accepts "2006-01-02T15:04" (optionally with seconds, or a space
// instead of T) interpreted in TimeZone, or RFC3339 with an explicit offset.
// An empty TimeZone means the canonical zone.
type ScheduleRequest struct {
	TenantID    string
	AuthorID    string
	DisplayName string
	Title       string
	Body        string
	ScheduledAt string
	TimeZone    string
}

// FireRequest asks for an immediate toast.
type FireRequest struct {
	TenantID string
	AuthorID string
	Title    string
	Body     string
}

// Dispatcher delivers a toast; *notifier.Service satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, t notifier.Toast) error
}

type MissedPolicy string

const (
	// MissedDispatch delivers past-due entries found by the sweep (catch-up).
	MissedDispatch MissedPolicy = "dispatch"
	// MissedDrop deletes past-due entries without delivering them.
	MissedDrop MissedPolicy = "drop"
)

// Config controls the scheduler. Zero values pick defaults.
//
// Defaults:
//   - Location: America/Los_Angeles
//   - GuardWindow: 1m
//   - MissedPolicy: dispatch
//   - ReconcileInterval: 0 (sweep at Start only)
//   - TitleMax: 40, BodyMax: 140 (runes)
//   - FireTimeout: 30s
//   - FireRetryDelay: 1s (doubles per failed store read, capped at 5m)
type Config struct {
	Location          *time.Location
	GuardWindow       time.Duration
	MissedPolicy      MissedPolicy
	ReconcileInterval time.Duration
	TitleMax          int
	BodyMax           int
	FireTimeout       time.Duration
	FireRetryDelay    time.Duration
}

// ArmedInfo describes one armed trigger.
type ArmedInfo struct {
	JobID       string    `json:"job_id"`
	TenantID    string    `json:"tenant_id"`
	Descriptor  string    `json:"descriptor"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Next        time.Time `json:"next"`
}

type Snapshot struct {
	Timezone          string          `json:"timezone"`
	GuardWindow       time.Duration   `json:"guard_window"`
	MissedPolicy      MissedPolicy    `json:"missed_policy"`
	ReconcileInterval time.Duration   `json:"reconcile_interval"`
	Armed             []ArmedInfo     `json:"armed"`
	LastSweep         ReconcileReport `json:"last_sweep"`
}

// ReconcileReport summarizes one sweep.
type ReconcileReport struct {
	At           time.Time `json:"at"`
	Tenants      int       `json:"tenants"`
	Entries      int       `json:"entries"`
	Armed        int       `json:"armed"`
	AlreadyArmed int       `json:"already_armed"`
	Dispatched   int       `json:"dispatched"`
	Dropped      int       `json:"dropped"`
	Malformed    int       `json:"malformed"`
	Pruned       int       `json:"pruned"`
	Errors       int       `json:"errors"`
}
