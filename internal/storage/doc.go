// Package storage is the key-value and lease layer beneath the sync state.
//
// Records live in named tables and are addressed by key. A record can carry a
// time-bounded lease; while the lease is held only its holder may write the
// record through PutLeased or DeleteLeased. Plain Set/Delete ignore leases and
// are used for tables that have a single writer (connections, instances).
//
// Drivers:
//   - "memory": process-local maps, for tests and sandbox runs
//   - "sqlite": a single SQLite file (modernc.org/sqlite, pure Go)
//
// Provision must be called once before use; it is idempotent.
package storage
