package storage

import (
	"context"
	"sort"
	"sync"
)

type memoryBackend struct {
	mu     sync.Mutex
	docs   map[string][]byte
	closed bool
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{docs: map[string][]byte{}}
}

// NewMemory returns an in-process Store.
func NewMemory() Store {
	return &docStore{b: newMemoryBackend()}
}

func (m *memoryBackend) load(_ context.Context, tenant string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.docs[tenant]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

func (m *memoryBackend) update(_ context.Context, tenant string, fn func([]byte) ([]byte, bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	next, write, err := fn(m.docs[tenant])
	if err != nil || !write {
		return err
	}
	if next == nil {
		delete(m.docs, tenant)
		return nil
	}
	m.docs[tenant] = next
	return nil
}

func (m *memoryBackend) tenants(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(m.docs))
	for t := range m.docs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryBackend) close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
