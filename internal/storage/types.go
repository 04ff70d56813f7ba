package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrClosed      = errors.New("storage closed")
	ErrInvalidPath = errors.New("invalid storage path")
	// ErrNotObject means a path walks through a node that is not a JSON object.
	ErrNotObject = errors.New("path crosses a non-object node")
)

// Config configures storage.
//
// If Driver is empty, the memory driver is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Path addresses a node inside a tenant document. An empty Path is the root.
type Path []string

func P(parts ...string) Path { return Path(parts) }

func (p Path) String() string { return strings.Join(p, "/") }

func (p Path) validate() error {
	for _, s := range p {
		if strings.TrimSpace(s) == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

// Store is the persistence API used by the scheduler.
type Store interface {
	// Get decodes the node at path into out. It reports false when the node
	// (or the tenant document) does not exist.
	Get(ctx context.Context, tenant string, path Path, out any) (bool, error)
	// Put replaces the node at path with v, creating intermediate objects.
	Put(ctx context.Context, tenant string, path Path, v any) error
	// Delete removes the node at path. It reports whether the node existed.
	Delete(ctx context.Context, tenant string, path Path) (bool, error)
	// DeleteIfEmpty removes the node at path only if it is an empty object.
	DeleteIfEmpty(ctx context.Context, tenant string, path Path) (bool, error)
	// Tenants lists tenants that have a document.
	Tenants(ctx context.Context) ([]string, error)
	Close() error
}
