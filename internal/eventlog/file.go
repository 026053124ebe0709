package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStore keeps one JSON document per table under a directory. Every
// write re-encodes the whole table and swaps it in with a rename, so a
// crash leaves either the old document or the new one on disk.
type FileStore struct {
	dir string

	mu   sync.Mutex
	docs map[Table]map[string]json.RawMessage
}

// OpenFileStore creates dir if needed and loads every existing table.
// A document that cannot be decoded is reported rather than reset.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("open", "", dir, err)
	}
	f := &FileStore{
		dir:  dir,
		docs: make(map[Table]map[string]json.RawMessage),
	}
	for _, t := range Tables {
		doc, err := f.read(t)
		if err != nil {
			return nil, err
		}
		f.docs[t] = doc
	}
	return f, nil
}

// Dir returns the data directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(table Table) string {
	return filepath.Join(f.dir, string(table)+".json")
}

func (f *FileStore) read(table Table) (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(f.path(table))
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, storageErr("read", table, "", err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, storageErr("read", table, "", fmt.Errorf("corrupt document %s: %w", f.path(table), err))
	}
	return doc, nil
}

// write replaces the table document on disk; caller holds f.mu.
func (f *FileStore) write(table Table, doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return storageErr("write", table, "", err)
	}

	target := f.path(table)
	tmp := target + ".tmp"

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return storageErr("write", table, "", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return storageErr("write", table, "", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return storageErr("write", table, "", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return storageErr("write", table, "", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return storageErr("write", table, "", err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context, table Table, key string) ([]byte, error) {
	if err := checkTable("load", table, key); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.docs[table][key]
	if !ok {
		return nil, notFound(table, key)
	}
	return clone(v), nil
}

func (f *FileStore) Save(_ context.Context, table Table, key string, value []byte) error {
	if err := checkTable("save", table, key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return storageErr("save", table, key, errors.New("value is not valid JSON"))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commit(table, key, value)
}

func (f *FileStore) Update(_ context.Context, table Table, key string, fn UpdateFunc) error {
	if err := checkTable("update", table, key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.docs[table][key]
	next, err := fn(clone(cur), ok)
	if err != nil {
		return err
	}
	if !json.Valid(next) {
		return storageErr("update", table, key, errors.New("value is not valid JSON"))
	}
	return f.commit(table, key, next)
}

// commit writes a copy of the table with key replaced and only swaps the
// cached document in after the file is on disk.
func (f *FileStore) commit(table Table, key string, value []byte) error {
	cur := f.docs[table]
	next := make(map[string]json.RawMessage, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[key] = clone(value)

	if err := f.write(table, next); err != nil {
		return err
	}
	f.docs[table] = next
	return nil
}

func (f *FileStore) Keys(_ context.Context, table Table) ([]string, error) {
	if err := checkTable("keys", table, ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.docs[table]))
	for k := range f.docs[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) Close() error { return nil }
