package eventlog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps every table in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[Table]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[Table]map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, table Table, key string) ([]byte, error) {
	if err := checkTable("load", table, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tables[table][key]
	if !ok {
		return nil, notFound(table, key)
	}
	return clone(v), nil
}

func (m *MemoryStore) Save(_ context.Context, table Table, key string, value []byte) error {
	if err := checkTable("save", table, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(table, key, value)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, table Table, key string, fn UpdateFunc) error {
	if err := checkTable("update", table, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tables[table][key]
	next, err := fn(clone(cur), ok)
	if err != nil {
		return err
	}
	m.put(table, key, next)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, table Table) ([]string, error) {
	if err := checkTable("keys", table, ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.tables[table]))
	for k := range m.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }

// put stores a copy of value; caller holds the write lock.
func (m *MemoryStore) put(table Table, key string, value []byte) {
	t, ok := m.tables[table]
	if !ok {
		t = make(map[string][]byte)
		m.tables[table] = t
	}
	t[key] = clone(value)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
