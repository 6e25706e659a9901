package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shiftsync/internal/delta"
	"shiftsync/internal/storage"
	logx "shiftsync/pkg/logx"
)

var (
	// ErrLeaseConflict means another writer holds the snapshot lease.
	ErrLeaseConflict = errors.New("state: lease conflict")
	// ErrLeaseLost means the lease expired or was taken before the write.
	ErrLeaseLost = errors.New("state: lease lost")
)

const (
	MinLeaseDuration = 15 * time.Second
	MaxLeaseDuration = 60 * time.Second
)

// Options configures a Schedules store.
type Options struct {
	LeaseDuration time.Duration
	RetryCount    int
	RetryInterval time.Duration

	Now func() time.Time
	Log logx.Logger
}

// Schedules stores one delta.Cache per (key, period). Writes go through a
// time-bounded lease so concurrent writers cannot drop each other's changes.
type Schedules[T delta.Item[T]] struct {
	store storage.Store
	table string
	opts  Options
}

func NewSchedules[T delta.Item[T]](st storage.Store, table string, opts Options) *Schedules[T] {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 30 * time.Second
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Schedules[T]{store: st, table: table, opts: opts}
}

// Lease is a held snapshot lease together with the value read under it.
type Lease[T delta.Item[T]] struct {
	Key    string
	Period string
	Token  string
	Until  time.Time
	Value  delta.Cache[T]
}

func recordKey(key, period string) string { return key + "/" + period }

// ClampLease bounds d to the supported lease range.
func ClampLease(d time.Duration) time.Duration {
	return min(max(d, MinLeaseDuration), MaxLeaseDuration)
}

// Load reads the snapshot without a lease. A missing record is an empty cache.
func (s *Schedules[T]) Load(ctx context.Context, key, period string) (delta.Cache[T], error) {
	b, ok, err := s.store.Get(ctx, s.table, recordKey(key, period))
	if err != nil || !ok {
		return delta.Cache[T]{}, err
	}
	return s.decode(key, period, b)
}

// LoadWithLease acquires the lease for d (clamped to 15s..60s) and returns
// the current snapshot. ErrLeaseConflict if another holder's lease is live.
func (s *Schedules[T]) LoadWithLease(ctx context.Context, key, period string, d time.Duration) (*Lease[T], error) {
	now := s.opts.Now()
	until := now.Add(ClampLease(d))
	token := uuid.NewString()

	b, ok, err := s.store.AcquireLease(ctx, s.table, recordKey(key, period), token, until, now)
	if errors.Is(err, storage.ErrLeaseHeld) {
		return nil, fmt.Errorf("%s/%s: %w", key, period, ErrLeaseConflict)
	}
	if err != nil {
		return nil, err
	}
	l := &Lease[T]{Key: key, Period: period, Token: token, Until: until}
	if ok {
		if l.Value, err = s.decode(key, period, b); err != nil {
			_ = s.Release(ctx, l)
			return nil, err
		}
	}
	return l, nil
}

// SaveWithLease writes value and releases the lease.
func (s *Schedules[T]) SaveWithLease(ctx context.Context, l *Lease[T], value delta.Cache[T]) error {
	if l == nil {
		return ErrLeaseLost
	}
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", l.Key, l.Period, err)
	}
	err = s.store.PutLeased(ctx, s.table, recordKey(l.Key, l.Period), l.Token, b, s.opts.Now())
	if errors.Is(err, storage.ErrLeaseNotHeld) {
		return fmt.Errorf("%s/%s: %w", l.Key, l.Period, ErrLeaseLost)
	}
	return err
}

// Release drops the lease without writing.
func (s *Schedules[T]) Release(ctx context.Context, l *Lease[T]) error {
	if l == nil {
		return nil
	}
	return s.store.ReleaseLease(ctx, s.table, recordKey(l.Key, l.Period), l.Token)
}

// WithLease runs fn on the current snapshot under a lease and saves its
// result. Lease conflicts (and leases lost before the save) are retried up to
// RetryCount times, RetryInterval apart. Errors from fn release the lease and
// are returned as is.
func (s *Schedules[T]) WithLease(ctx context.Context, key, period string, fn func(current delta.Cache[T]) (delta.Cache[T], error)) error {
	return s.retry(ctx, key, period, func() error {
		l, err := s.LoadWithLease(ctx, key, period, s.opts.LeaseDuration)
		if err != nil {
			return err
		}
		next, err := fn(l.Value)
		if err != nil {
			_ = s.Release(context.WithoutCancel(ctx), l)
			return err
		}
		return s.SaveWithLease(ctx, l, next)
	})
}

// DeleteSchedule removes the snapshot (out-of-band reset). It takes the lease
// first so it never races a cycle's merge.
func (s *Schedules[T]) DeleteSchedule(ctx context.Context, key, period string) error {
	return s.retry(ctx, key, period, func() error {
		l, err := s.LoadWithLease(ctx, key, period, s.opts.LeaseDuration)
		if err != nil {
			return err
		}
		err = s.store.DeleteLeased(ctx, s.table, recordKey(key, period), l.Token, s.opts.Now())
		if errors.Is(err, storage.ErrLeaseNotHeld) {
			return fmt.Errorf("%s/%s: %w", key, period, ErrLeaseLost)
		}
		return err
	})
}

func (s *Schedules[T]) retry(ctx context.Context, key, period string, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLeaseConflict) && !errors.Is(err, ErrLeaseLost) {
			return err
		}
		if attempt >= s.opts.RetryCount {
			break
		}
		s.opts.Log.Debug("schedule lease busy; retrying",
			logx.String("key", key),
			logx.String("period", period),
			logx.Int("attempt", attempt+1),
			logx.Err(err),
		)
		t := time.NewTimer(s.opts.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("lease retry canceled: %w", ctx.Err())
		case <-t.C:
		}
	}
	s.opts.Log.Warn("schedule lease retries exhausted",
		logx.String("key", key),
		logx.String("period", period),
		logx.Int("retries", s.opts.RetryCount),
		logx.Err(err),
		logx.Alert(),
	)
	return fmt.Errorf("after %d retries: %w", s.opts.RetryCount, err)
}

func (s *Schedules[T]) decode(key, period string, b []byte) (delta.Cache[T], error) {
	var c delta.Cache[T]
	if err := json.Unmarshal(b, &c); err != nil {
		return delta.Cache[T]{}, fmt.Errorf("decode %s/%s: %w", key, period, err)
	}
	return c, nil
}
