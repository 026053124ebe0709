package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// RedisStore keeps each record under its own string key and tracks the
// keys of a table in a set, so optimistic transactions only contend on
// the record being updated.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// OpenRedisStore connects to url and verifies the connection.
func OpenRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, storageErr("open", "", "", err)
	}
	return NewRedisStore(rdb, prefix), nil
}

func (r *RedisStore) recordKey(table Table, key string) string {
	return r.prefix + ":" + string(table) + ":" + key
}

func (r *RedisStore) indexKey(table Table) string {
	return r.prefix + ":" + string(table) + ":_keys"
}

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Load(ctx context.Context, table Table, key string) ([]byte, error) {
	if err := checkTable("load", table, key); err != nil {
		return nil, err
	}
	v, err := r.rdb.Get(ctx, r.recordKey(table, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(table, key)
	}
	if err != nil {
		return nil, storageErr("load", table, key, err)
	}
	return v, nil
}

func (r *RedisStore) Save(ctx context.Context, table Table, key string, value []byte) error {
	if err := checkTable("save", table, key); err != nil {
		return err
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.recordKey(table, key), value, 0)
		pipe.SAdd(ctx, r.indexKey(table), key)
		return nil
	})
	if err != nil {
		return storageErr("save", table, key, err)
	}
	return nil
}

// Update watches the record key and retries when another writer wins.
func (r *RedisStore) Update(ctx context.Context, table Table, key string, fn UpdateFunc) error {
	if err := checkTable("update", table, key); err != nil {
		return err
	}
	rk := r.recordKey(table, key)

	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rk).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
		} else if err != nil {
			return err
		}

		next, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, next, 0)
			pipe.SAdd(ctx, r.indexKey(table), key)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		fnErr = nil
		err := r.rdb.Watch(ctx, txf, rk)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return storageErr("update", table, key, err)
	}
	return storageErr("update", table, key, fmt.Errorf("gave up after %d conflicting writes", maxTxRetries))
}

func (r *RedisStore) Keys(ctx context.Context, table Table) ([]string, error) {
	if err := checkTable("keys", table, ""); err != nil {
		return nil, err
	}
	keys, err := r.rdb.SMembers(ctx, r.indexKey(table)).Result()
	if err != nil {
		return nil, storageErr("keys", table, "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
