package eventlog

import (
	"context"
	"encoding/json"
	"errors"
)

// LoadJSON loads and decodes the value stored under key.
func LoadJSON[T any](ctx context.Context, s Store, table Table, key string) (T, error) {
	var out T
	raw, err := s.Load(ctx, table, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, storageErr("decode", table, key, err)
	}
	return out, nil
}

// SaveJSON encodes v and stores it under key.
func SaveJSON[T any](ctx context.Context, s Store, table Table, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return storageErr("encode", table, key, err)
	}
	return s.Save(ctx, table, key, raw)
}

// UpdateJSON is the typed form of Store.Update.
func UpdateJSON[T any](ctx context.Context, s Store, table Table, key string, fn func(cur T, exists bool) (T, error)) error {
	return s.Update(ctx, table, key, func(current []byte, exists bool) ([]byte, error) {
		var cur T
		if exists {
			if err := json.Unmarshal(current, &cur); err != nil {
				return nil, storageErr("decode", table, key, err)
			}
		}
		next, err := fn(cur, exists)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return nil, storageErr("encode", table, key, err)
		}
		return raw, nil
	})
}

// LoadList loads a per-key list. A missing key is an empty list.
func LoadList[T any](ctx context.Context, s Store, table Table, key string) ([]T, error) {
	list, err := LoadJSON[[]T](ctx, s, table, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return list, err
}

// AppendCapped appends entry to the list under key, keeping at most limit
// entries. The oldest entries are dropped first.
func AppendCapped[T any](ctx context.Context, s Store, table Table, key string, entry T, limit int) error {
	return UpdateJSON(ctx, s, table, key, func(list []T, _ bool) ([]T, error) {
		list = append(list, entry)
		return Tail(list, limit), nil
	})
}

// Tail returns the last n elements of list (all of them when n <= 0 or
// the list is shorter).
func Tail[T any](list []T, n int) []T {
	if n <= 0 || len(list) <= n {
		return list
	}
	out := make([]T, n)
	copy(out, list[len(list)-n:])
	return out
}
