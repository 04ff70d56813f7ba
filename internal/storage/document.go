package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	logx "toastd/pkg/logx"
)

// backend is what a driver implements: whole-document load and an atomic
// read-modify-write per tenant.
type backend interface {
	load(ctx context.Context, tenant string) ([]byte, error)
	// update calls fn with the current document (nil if absent). When fn
	// reports write=true the result is stored; a nil result deletes the document.
	update(ctx context.Context, tenant string, fn func(cur []byte) (next []byte, write bool, err error)) error
	tenants(ctx context.Context) ([]string, error)
	close() error
}

// docStore implements Store on top of any backend.
type docStore struct {
	b   backend
	log logx.Logger
}

func checkTenant(tenant string) error {
	if strings.TrimSpace(tenant) == "" {
		return fmt.Errorf("%w: empty tenant", ErrInvalidPath)
	}
	return nil
}

func (s *docStore) Get(ctx context.Context, tenant string, path Path, out any) (bool, error) {
	if err := checkTenant(tenant); err != nil {
		return false, err
	}
	if err := path.validate(); err != nil {
		return false, err
	}
	raw, err := s.b.load(ctx, tenant)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", tenant, err)
	}
	if raw == nil {
		return false, nil
	}
	doc, err := decodeTree(raw)
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", tenant, err)
	}
	node, ok := lookup(doc, path)
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	b, err := json.Marshal(node)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", tenant, path, err)
	}
	return true, nil
}

func (s *docStore) Put(ctx context.Context, tenant string, path Path, v any) error {
	if err := checkTenant(tenant); err != nil {
		return err
	}
	if err := path.validate(); err != nil {
		return err
	}
	val, err := toTree(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", tenant, path, err)
	}
	return s.mutate(ctx, tenant, func(doc map[string]any) (map[string]any, bool, error) {
		if len(path) == 0 {
			m, ok := val.(map[string]any)
			if !ok {
				return nil, false, ErrNotObject
			}
			return m, true, nil
		}
		if doc == nil {
			doc = map[string]any{}
		}
		parent, err := ensureParent(doc, path)
		if err != nil {
			return nil, false, err
		}
		parent[path[len(path)-1]] = val
		return doc, true, nil
	})
}

func (s *docStore) Delete(ctx context.Context, tenant string, path Path) (bool, error) {
	return s.remove(ctx, tenant, path, func(any) bool { return true })
}

func (s *docStore) DeleteIfEmpty(ctx context.Context, tenant string, path Path) (bool, error) {
	return s.remove(ctx, tenant, path, func(node any) bool {
		m, ok := node.(map[string]any)
		return ok && len(m) == 0
	})
}

func (s *docStore) remove(ctx context.Context, tenant string, path Path, cond func(node any) bool) (bool, error) {
	if err := checkTenant(tenant); err != nil {
		return false, err
	}
	if err := path.validate(); err != nil {
		return false, err
	}
	removed := false
	err := s.mutate(ctx, tenant, func(doc map[string]any) (map[string]any, bool, error) {
		// Backends may rerun fn after a write conflict.
		removed = false
		if doc == nil {
			return nil, false, nil
		}
		if len(path) == 0 {
			if !cond(doc) {
				return nil, false, nil
			}
			removed = true
			return nil, true, nil
		}
		parentPath, key := path[:len(path)-1], path[len(path)-1]
		pn, ok := lookup(doc, parentPath)
		if !ok {
			return nil, false, nil
		}
		parent, ok := pn.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		node, ok := parent[key]
		if !ok || !cond(node) {
			return nil, false, nil
		}
		delete(parent, key)
		removed = true
		return doc, true, nil
	})
	return removed, err
}

func (s *docStore) Tenants(ctx context.Context) ([]string, error) {
	return s.b.tenants(ctx)
}

func (s *docStore) Close() error { return s.b.close() }

// mutate runs fn against the decoded tenant document (nil when absent).
// Returning a nil document with write=true deletes the tenant document.
func (s *docStore) mutate(ctx context.Context, tenant string, fn func(doc map[string]any) (map[string]any, bool, error)) error {
	err := s.b.update(ctx, tenant, func(cur []byte) ([]byte, bool, error) {
		var doc map[string]any
		if cur != nil {
			t, err := decodeTree(cur)
			if err != nil {
				return nil, false, fmt.Errorf("decode: %w", err)
			}
			m, ok := t.(map[string]any)
			if !ok {
				return nil, false, ErrNotObject
			}
			doc = m
		}
		next, write, err := fn(doc)
		if err != nil || !write {
			return nil, false, err
		}
		if next == nil {
			return nil, true, nil
		}
		b, err := json.Marshal(next)
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", tenant, err)
	}
	return nil
}

// ---- tree helpers ----

func decodeTree(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func toTree(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeTree(b)
}

func lookup(root any, path Path) (any, bool) {
	cur := root
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ensureParent walks path[:len-1] creating objects as needed. doc must be non-nil.
func ensureParent(doc map[string]any, path Path) (map[string]any, error) {
	cur := doc
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			m := map[string]any{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w at %q", ErrNotObject, seg)
		}
		cur = m
	}
	return cur, nil
}
