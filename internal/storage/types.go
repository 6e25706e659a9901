package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotProvisioned is returned by every operation before Provision ran.
	ErrNotProvisioned = errors.New("storage not provisioned")
	// ErrLeaseHeld means another token holds an unexpired lease on the record.
	ErrLeaseHeld = errors.New("lease held by another owner")
	// ErrLeaseNotHeld means the token does not hold a live lease on the record.
	ErrLeaseNotHeld = errors.New("lease not held")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (default)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one stored value.
type Record struct {
	Key   string
	Value []byte
}

// Store is the persistence contract shared by all drivers.
//
// Lease operations take "now" from the caller so tests can drive expiry
// deterministically.
type Store interface {
	Provision(ctx context.Context) error

	Get(ctx context.Context, table, key string) ([]byte, bool, error)
	Set(ctx context.Context, table, key string, value []byte) error
	Delete(ctx context.Context, table, key string) error
	List(ctx context.Context, table string) ([]Record, error)

	// AcquireLease takes the lease for token until the given time and returns
	// the current value. It fails with ErrLeaseHeld when a different token
	// holds a lease that has not expired at now. Re-acquiring with the same
	// token extends the lease.
	AcquireLease(ctx context.Context, table, key, token string, until, now time.Time) ([]byte, bool, error)
	// PutLeased writes value and releases the lease. ErrLeaseNotHeld if token
	// does not hold a live lease at now.
	PutLeased(ctx context.Context, table, key, token string, value []byte, now time.Time) error
	// DeleteLeased removes the record and its lease under the same rule as PutLeased.
	DeleteLeased(ctx context.Context, table, key, token string, now time.Time) error
	// ReleaseLease drops the lease without writing. Releasing a lease the
	// token no longer holds is not an error.
	ReleaseLease(ctx context.Context, table, key, token string) error

	Close() error
}
