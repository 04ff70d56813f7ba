package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteBackend struct {
	db *sql.DB
}

func openSQLite(cfg Config) (*sqliteBackend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers, which also makes each update's
	// read-modify-write transaction exclusive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteBackend{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteBackend) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteBackend) load(ctx context.Context, tenant string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE tenant = ?`, tenant).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (s *sqliteBackend) update(ctx context.Context, tenant string, fn func([]byte) ([]byte, bool, error)) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var cur []byte
	var body string
	switch qerr := tx.QueryRowContext(ctx, `SELECT body FROM documents WHERE tenant = ?`, tenant).Scan(&body); {
	case errors.Is(qerr, sql.ErrNoRows):
	case qerr != nil:
		return qerr
	default:
		cur = []byte(body)
	}

	next, write, err := fn(cur)
	if err != nil {
		return err
	}
	if !write {
		return tx.Rollback()
	}
	if next == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE tenant = ?`, tenant)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents(tenant, body, updated_at) VALUES(?,?,?)
			 ON CONFLICT(tenant) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
			tenant, string(next), time.Now().UTC().Format(time.RFC3339Nano),
		)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteBackend) tenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant FROM documents ORDER BY tenant`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
