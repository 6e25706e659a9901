package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	logx "shiftsync/pkg/logx"
)

type memEntry struct {
	value []byte // nil: lease-only placeholder
	token string
	until time.Time
}

// memoryStore keeps records in process memory. Values are copied in and out.
type memoryStore struct {
	log logx.Logger

	mu          sync.Mutex
	provisioned bool
	tables      map[string]map[string]*memEntry
}

// NewMemory returns an unprovisioned in-memory store.
func NewMemory(log logx.Logger) Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &memoryStore{log: log, tables: map[string]map[string]*memEntry{}}
}

func (s *memoryStore) Provision(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		s.provisioned = true
		s.log.Debug("memory store provisioned")
	}
	return nil
}

func (s *memoryStore) Close() error { return nil }

// entryLocked returns the entry for (table,key), creating it when create is set.
func (s *memoryStore) entryLocked(table, key string, create bool) *memEntry {
	t := s.tables[table]
	if t == nil {
		if !create {
			return nil
		}
		t = map[string]*memEntry{}
		s.tables[table] = t
	}
	e := t[key]
	if e == nil && create {
		e = &memEntry{}
		t[key] = e
	}
	return e
}

func (s *memoryStore) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return nil, false, ErrNotProvisioned
	}
	e := s.entryLocked(table, key, false)
	if e == nil || e.value == nil {
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

func (s *memoryStore) Set(ctx context.Context, table, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return ErrNotProvisioned
	}
	e := s.entryLocked(table, key, true)
	e.value = cloneValue(value)
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, table, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return ErrNotProvisioned
	}
	if t := s.tables[table]; t != nil {
		delete(t, key)
	}
	return nil
}

func (s *memoryStore) List(ctx context.Context, table string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return nil, ErrNotProvisioned
	}
	t := s.tables[table]
	out := make([]Record, 0, len(t))
	for k, e := range t {
		if e.value == nil {
			continue
		}
		out = append(out, Record{Key: k, Value: slices.Clone(e.value)})
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *memoryStore) AcquireLease(ctx context.Context, table, key, token string, until, now time.Time) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return nil, false, ErrNotProvisioned
	}
	e := s.entryLocked(table, key, true)
	if e.token != "" && e.token != token && e.until.After(now) {
		return nil, false, ErrLeaseHeld
	}
	e.token = token
	e.until = until
	if e.value == nil {
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

// holdsLocked reports whether token holds a live lease on e.
func holdsLocked(e *memEntry, token string, now time.Time) bool {
	return e != nil && token != "" && e.token == token && e.until.After(now)
}

func (s *memoryStore) PutLeased(ctx context.Context, table, key, token string, value []byte, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return ErrNotProvisioned
	}
	e := s.entryLocked(table, key, false)
	if !holdsLocked(e, token, now) {
		return ErrLeaseNotHeld
	}
	e.value = cloneValue(value)
	e.token = ""
	e.until = time.Time{}
	return nil
}

func (s *memoryStore) DeleteLeased(ctx context.Context, table, key, token string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return ErrNotProvisioned
	}
	e := s.entryLocked(table, key, false)
	if !holdsLocked(e, token, now) {
		return ErrLeaseNotHeld
	}
	delete(s.tables[table], key)
	return nil
}

func (s *memoryStore) ReleaseLease(ctx context.Context, table, key, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return ErrNotProvisioned
	}
	e := s.entryLocked(table, key, false)
	if e == nil || e.token != token {
		return nil
	}
	if e.value == nil {
		delete(s.tables[table], key)
		return nil
	}
	e.token = ""
	e.until = time.Time{}
	return nil
}

// cloneValue copies value; an empty value is stored as non-nil so it still counts as present.
func cloneValue(value []byte) []byte {
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
