package storage

import (
	"errors"
	"strings"

	logx "toastd/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	var (
		b   backend
		err error
	)
	switch driver {
	case "", "memory":
		b = newMemoryBackend()
	case "file":
		b, err = openFile(cfg)
	case "sqlite", "sqlite3":
		b, err = openSQLite(cfg)
	case "redis":
		b, err = openRedis(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.Bool("path_set", strings.TrimSpace(cfg.Path) != ""))
	return &docStore{b: b, log: log}, nil
}
