package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// CreateFlow implements ports.FlowStore.
func (s *Store) CreateFlow(ctx context.Context, correlationID ports.CorrelationID, rootJSON []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO gale_flows (correlation_id, document, updated_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (correlation_id) DO NOTHING
`, string(correlationID), rootJSON, s.clock.Now())
	if err != nil {
		return errs.Transient("postgres.CreateFlow", err)
	}
	return nil
}

// LoadFlow implements ports.FlowStore.
func (s *Store) LoadFlow(ctx context.Context, correlationID ports.CorrelationID) ([]byte, bool, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM gale_flows WHERE correlation_id = $1`, string(correlationID)).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Transient("postgres.LoadFlow", err)
	}
	return doc, true, nil
}

// SaveFlow implements ports.FlowStore.
func (s *Store) SaveFlow(ctx context.Context, correlationID ports.CorrelationID, rootJSON []byte) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO gale_flows (correlation_id, document, updated_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (correlation_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
`, string(correlationID), rootJSON, s.clock.Now())
	if err != nil {
		return errs.Transient("postgres.SaveFlow", err)
	}
	return nil
}
