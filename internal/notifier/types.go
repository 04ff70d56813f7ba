package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoRoute means the dispatcher has no destination for the tenant.
	ErrNoRoute = errors.New("no delivery route for tenant")
	ErrEmpty   = errors.New("toast has no title or body")
)

// Toast is one notification addressed to every member of a tenant.
type Toast struct {
	TenantID string `json:"tenant_id"`
	Title    string `json:"title"`
	Body     string `json:"text"`
	// JobID is set for scheduled toasts, empty for immediate ones.
	JobID    string `json:"job_id,omitempty"`
	AuthorID string `json:"author_id,omitempty"`
}

// Dispatcher delivers a toast. Implementations must be safe for concurrent use.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, t Toast) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, t Toast) error

func (f DispatcherFunc) Name() string                                { return "func" }
func (f DispatcherFunc) Dispatch(ctx context.Context, t Toast) error { return f(ctx, t) }

// Config tunes the Service. Zero values pick defaults.
type Config struct {
	RatePerSec  int
	Timeout     time.Duration
	HistorySize int
}

type HistoryItem struct {
	At       time.Time     `json:"at"`
	TenantID string        `json:"tenant_id"`
	JobID    string        `json:"job_id,omitempty"`
	Title    string        `json:"title"`
	Took     time.Duration `json:"took"`
	Error    string        `json:"error,omitempty"`
}
