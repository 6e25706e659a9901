package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "shiftsync/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	provisioned atomic.Bool

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also serializes lease transactions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return &sqliteStore{db: db, log: log, pruneEvery: 500}, nil
}

func (s *sqliteStore) Provision(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("provision sqlite: %w", err)
	}
	if !s.provisioned.Swap(true) {
		s.log.Info("sqlite store provisioned")
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ready() error {
	if s == nil || s.db == nil || !s.provisioned.Load() {
		return ErrNotProvisioned
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	var v []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE tbl = ? AND key = ? AND value IS NOT NULL`, table, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return nonNil(v), true, nil
}

func (s *sqliteStore) Set(ctx context.Context, table, key string, value []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records(tbl, key, value, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(tbl, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		table, key, nonNil(value), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, table, key string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND key = ?`, table, key)
	return err
}

func (s *sqliteStore) List(ctx context.Context, table string) ([]Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM records WHERE tbl = ? AND value IS NOT NULL ORDER BY key`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, err
		}
		r.Value = nonNil(r.Value)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AcquireLease(ctx context.Context, table, key, token string, until, now time.Time) ([]byte, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		value      []byte
		holder     string
		leaseUntil int64
		exists     = true
	)
	err = tx.QueryRowContext(ctx,
		`SELECT value, lease_token, lease_until FROM records WHERE tbl = ? AND key = ?`, table, key,
	).Scan(&value, &holder, &leaseUntil)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return nil, false, err
	}

	if exists && holder != "" && holder != token && leaseUntil > now.UnixMilli() {
		return nil, false, ErrLeaseHeld
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET lease_token = ?, lease_until = ? WHERE tbl = ? AND key = ?`,
			token, until.UnixMilli(), table, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records(tbl, key, value, lease_token, lease_until, updated_at) VALUES(?,?,NULL,?,?,?)`,
			table, key, token, until.UnixMilli(), now.UnixMilli())
	}
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	s.maybePrune(now)
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *sqliteStore) PutLeased(ctx context.Context, table, key, token string, value []byte, now time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if token == "" {
		return ErrLeaseNotHeld
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET value = ?, lease_token = '', lease_until = 0, updated_at = ?
		 WHERE tbl = ? AND key = ? AND lease_token = ? AND lease_until > ?`,
		nonNil(value), now.UnixMilli(), table, key, token, now.UnixMilli())
	return leaseResult(res, err)
}

func (s *sqliteStore) DeleteLeased(ctx context.Context, table, key, token string, now time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if token == "" {
		return ErrLeaseNotHeld
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tbl = ? AND key = ? AND lease_token = ? AND lease_until > ?`,
		table, key, token, now.UnixMilli())
	return leaseResult(res, err)
}

func (s *sqliteStore) ReleaseLease(ctx context.Context, table, key, token string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tbl = ? AND key = ? AND lease_token = ? AND value IS NULL`,
		table, key, token); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE records SET lease_token = '', lease_until = 0 WHERE tbl = ? AND key = ? AND lease_token = ?`,
		table, key, token)
	return err
}

func leaseResult(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}

// maybePrune drops expired lease-only placeholder rows every pruneEvery lease acquisitions.
func (s *sqliteStore) maybePrune(now time.Time) {
	if s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := s.db.ExecContext(pctx,
		`DELETE FROM records WHERE value IS NULL AND lease_until < ?`, now.UnixMilli())
	if err != nil {
		s.log.Debug("lease prune failed", logx.Err(err))
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug("pruned expired leases", logx.Int64("rows", n))
	}
}

func nonNil(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}
