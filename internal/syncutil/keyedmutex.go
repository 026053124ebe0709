// Package syncutil serializes work per user.
package syncutil

import (
	"context"
	"hash/fnv"
	"sort"
)

const shardCount = 256

// KeyedMutex is a fixed pool of channel-backed locks addressed by string
// key. Memory stays bounded no matter how many users are seen; two keys
// that hash to the same shard simply share a lock.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex returns a KeyedMutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock acquires the lock for key or returns ctx.Err() if the context ends
// first. The returned function releases the lock and must be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	return m.LockMany(ctx, key)
}

// LockMany acquires the locks for all keys. Shards are taken in ascending
// index order so concurrent callers with overlapping keys cannot deadlock.
// Keys that share a shard are locked once.
func (m *KeyedMutex) LockMany(ctx context.Context, keys ...string) (func(), error) {
	idx := m.shardSet(keys)
	held := make([]int, 0, len(idx))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.shards[held[i]] <- struct{}{}
		}
	}

	for _, i := range idx {
		select {
		case <-m.shards[i]:
			held = append(held, i)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (m *KeyedMutex) shardSet(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	out := make([]int, 0, len(keys))
	for _, k := range keys {
		i := shardOf(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
