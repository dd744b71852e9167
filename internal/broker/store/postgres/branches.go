package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// CreateBranches implements ports.BranchStore.
func (s *Store) CreateBranches(ctx context.Context, parentInstanceID ports.TaskInstanceID, branches []ports.BranchSpec) error {
	batch := &pgx.Batch{}
	now := s.clock.Now()
	for _, b := range branches {
		batch.Queue(`
INSERT INTO gale_branches (branch_id, parent_task_instance_id, created_at, status)
VALUES ($1, $2, $3, 'active')
ON CONFLICT (branch_id) DO NOTHING
`, string(b.BranchID), string(parentInstanceID), now)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range branches {
		if _, err := results.Exec(); err != nil {
			return errs.Transient("postgres.CreateBranches", err)
		}
	}
	return nil
}

// MarkBranchCompleted performs the single active->completed transition: the
// conditional UPDATE only matches a still-active row, so RowsAffected tells
// the caller whether it was the one that flipped it.
func (s *Store) MarkBranchCompleted(ctx context.Context, branchID ports.BranchID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE gale_branches
SET status = 'completed', completed_at = $2
WHERE branch_id = $1 AND status = 'active'
`, string(branchID), s.clock.Now())
	if err != nil {
		return false, errs.Transient("postgres.MarkBranchCompleted", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AreBranchesCompleted implements ports.BranchStore.
func (s *Store) AreBranchesCompleted(ctx context.Context, branchIDs []ports.BranchID) (bool, error) {
	if len(branchIDs) == 0 {
		return true, nil
	}
	ids := make([]string, len(branchIDs))
	for i, id := range branchIDs {
		ids[i] = string(id)
	}

	var incomplete int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM gale_branches
WHERE branch_id = ANY($1) AND status <> 'completed'
`, ids).Scan(&incomplete)
	if err != nil {
		return false, errs.Transient("postgres.AreBranchesCompleted", err)
	}

	var found int
	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM gale_branches WHERE branch_id = ANY($1)`, ids).Scan(&found)
	if err != nil {
		return false, errs.Transient("postgres.AreBranchesCompleted", err)
	}
	if found != len(branchIDs) {
		return false, nil
	}
	return incomplete == 0, nil
}
