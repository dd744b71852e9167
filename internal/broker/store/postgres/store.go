// Package postgres is the broker's production persistence adapter (spec
// §4.4), backed by jackc/pgx/v5. Schema migrations live under ./migrations
// and are applied with golang-migrate (see cmd/gale-broker's migrate
// subcommand), the same pairing the goclaw pack uses.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Store is a pgx-backed ports.Store.
type Store struct {
	pool  *pgxpool.Pool
	clock ports.Clock

	// LockAttempts and LockBackoff mirror the spec's spin-lock budget
	// (N=10 attempts, ~50ms back-off).
	LockAttempts int
	LockBackoff  time.Duration
}

// New wraps an already-connected pgxpool.Pool.
func New(pool *pgxpool.Pool, clock ports.Clock) *Store {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Store{pool: pool, clock: clock, LockAttempts: 10, LockBackoff: 50 * time.Millisecond}
}

var _ ports.Store = (*Store)(nil)

// Connect opens a pgxpool against dsn. Callers are responsible for calling
// Close on the returned pool's owner when done (via Store.Close).
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, dsn)
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
