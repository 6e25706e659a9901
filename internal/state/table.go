// Package state layers typed JSON tables and the lease-guarded schedule
// snapshot store on top of storage.Store.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"shiftsync/internal/storage"
)

var ErrNotFound = errors.New("state: not found")

// Entry is one decoded table row.
type Entry[T any] struct {
	Key   string
	Value T
}

// Table is a typed view over one storage table. Values are JSON encoded.
type Table[T any] struct {
	store storage.Store
	name  string
}

func NewTable[T any](st storage.Store, name string) Table[T] {
	return Table[T]{store: st, name: name}
}

func (t Table[T]) Name() string { return t.name }

func (t Table[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	b, ok, err := t.store.Get(ctx, t.name, key)
	if err != nil || !ok {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, false, fmt.Errorf("decode %s/%s: %w", t.name, key, err)
	}
	return v, true, nil
}

// MustGet is Get that reports a missing key as ErrNotFound.
func (t Table[T]) MustGet(ctx context.Context, key string) (T, error) {
	v, ok, err := t.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("%s/%s: %w", t.name, key, ErrNotFound)
	}
	return v, nil
}

func (t Table[T]) Set(ctx context.Context, key string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", t.name, key, err)
	}
	return t.store.Set(ctx, t.name, key, b)
}

func (t Table[T]) Delete(ctx context.Context, key string) error {
	return t.store.Delete(ctx, t.name, key)
}

// List returns every row ordered by key.
func (t Table[T]) List(ctx context.Context) ([]Entry[T], error) {
	recs, err := t.store.List(ctx, t.name)
	if err != nil {
		return nil, err
	}
	out := make([]Entry[T], 0, len(recs))
	for _, r := range recs {
		var v T
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", t.name, r.Key, err)
		}
		out = append(out, Entry[T]{Key: r.Key, Value: v})
	}
	return out, nil
}
