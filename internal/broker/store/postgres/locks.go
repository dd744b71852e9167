package postgres

import (
	"context"
	"time"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
)

// AcquireLock implements the generic optimistic spin-lock (spec §4.4, §9):
// a conditional UPDATE ... WHERE locked=false, retried up to LockAttempts
// times with LockBackoff between tries. A row for id is created on first
// use.
func (s *Store) AcquireLock(ctx context.Context, id string) error {
	for attempt := 0; attempt < s.LockAttempts; attempt++ {
		tag, err := s.pool.Exec(ctx, `
INSERT INTO gale_locks (id, locked) VALUES ($1, true)
ON CONFLICT (id) DO UPDATE SET locked = true WHERE gale_locks.locked = false
`, id)
		if err != nil {
			return errs.Transient("postgres.AcquireLock", err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.LockBackoff):
		}
	}
	return errs.LockContention("postgres.AcquireLock", id)
}

// ReleaseLock implements the lock's complement write.
func (s *Store) ReleaseLock(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE gale_locks SET locked = false WHERE id = $1`, id)
	if err != nil {
		return errs.Transient("postgres.ReleaseLock", err)
	}
	return nil
}
