package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const docExt = ".json"

// fileBackend is a dependency-free backend: <dir>/<escaped tenant>.json.
//
// Writes go to a temp file in the same directory that is fsynced and renamed
// over the target, so a crash leaves either the old or the new document.
type fileBackend struct {
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config) (*fileBackend, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		dir = "./data/toastd"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileBackend{dir: dir}, nil
}

func (f *fileBackend) docPath(tenant string) string {
	return filepath.Join(f.dir, url.PathEscape(tenant)+docExt)
}

func (f *fileBackend) load(_ context.Context, tenant string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.readLocked(tenant)
}

func (f *fileBackend) readLocked(tenant string) ([]byte, error) {
	b, err := os.ReadFile(f.docPath(tenant))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func (f *fileBackend) update(_ context.Context, tenant string, fn func([]byte) ([]byte, bool, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	cur, err := f.readLocked(tenant)
	if err != nil {
		return err
	}
	next, write, err := fn(cur)
	if err != nil || !write {
		return err
	}
	path := f.docPath(tenant)
	if next == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeAtomic(path, next)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (f *fileBackend) tenants(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	ents, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docExt) {
			continue
		}
		t, err := url.PathUnescape(strings.TrimSuffix(name, docExt))
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fileBackend) close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
