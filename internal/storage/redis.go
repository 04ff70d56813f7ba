package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisTxRetries = 64

// redisBackend keeps each tenant document under <prefix>:doc:<tenant> and
// indexes tenants in the set <prefix>:tenants. Updates use optimistic
// WATCH/MULTI transactions and retry on conflict.
type redisBackend struct {
	rdb    redis.UniversalClient
	prefix string
	owned  bool
}

func openRedis(cfg Config) (*redisBackend, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b := newRedisBackend(rdb, cfg.RedisPrefix)
	b.owned = true
	return b, nil
}

func newRedisBackend(rdb redis.UniversalClient, prefix string) *redisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "toastd"
	}
	return &redisBackend{rdb: rdb, prefix: prefix}
}

// NewRedis wraps an existing client. The caller keeps ownership of rdb.
func NewRedis(rdb redis.UniversalClient, prefix string) Store {
	return &docStore{b: newRedisBackend(rdb, prefix)}
}

func (r *redisBackend) docKey(tenant string) string { return r.prefix + ":doc:" + tenant }
func (r *redisBackend) indexKey() string            { return r.prefix + ":tenants" }

func (r *redisBackend) load(ctx context.Context, tenant string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.docKey(tenant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (r *redisBackend) update(ctx context.Context, tenant string, fn func([]byte) ([]byte, bool, error)) error {
	key := r.docKey(tenant)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}
		next, write, err := fn(cur)
		if err != nil || !write {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, r.indexKey(), tenant)
				return nil
			}
			pipe.Set(ctx, key, next, 0)
			pipe.SAdd(ctx, r.indexKey(), tenant)
			return nil
		})
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: too many conflicts", tenant)
}

func (r *redisBackend) tenants(ctx context.Context) ([]string, error) {
	out, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (r *redisBackend) close() error {
	if r.owned {
		return r.rdb.Close()
	}
	return nil
}
