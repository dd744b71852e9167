package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// MarkStarted implements ports.TaskStore.
func (s *Store) MarkStarted(ctx context.Context, task ports.Task, agentName string) error {
	input, err := json.Marshal(task.Input)
	if err != nil {
		return errs.Runtime("postgres.MarkStarted", fmt.Errorf("marshal input: %w", err))
	}

	var parentKind, parentInstance *string
	if task.ParentTask != nil {
		pk := string(task.ParentTask.TaskKind)
		pi := string(task.ParentTask.TaskInstanceID)
		parentKind, parentInstance = &pk, &pi
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO gale_tasks (task_instance_id, correlation_id, task_kind, agent_name, status, started_at,
                         parent_task_kind, parent_task_instance_id, group_id, branch_id, input)
VALUES ($1, $2, $3, $4, 'started', $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10::jsonb)
ON CONFLICT (task_instance_id) DO UPDATE SET
    agent_name = EXCLUDED.agent_name,
    status = 'started',
    started_at = EXCLUDED.started_at,
    input = EXCLUDED.input
`, string(task.TaskInstanceID), string(task.CorrelationID), string(task.TaskKind), agentName, s.clock.Now(),
		parentKind, parentInstance, string(task.GroupID), string(task.BranchID), input)
	if err != nil {
		return errs.Transient("postgres.MarkStarted", err)
	}
	return nil
}

func (s *Store) setTerminal(ctx context.Context, id ports.TaskInstanceID, status ports.Status, resp ports.AgentTaskResponse) error {
	output, err := json.Marshal(resp.TaskOutput)
	if err != nil {
		return errs.Runtime("postgres.setTerminal", fmt.Errorf("marshal output: %w", err))
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE gale_tasks
SET status = $2, stopped_at = $3, output = $4::jsonb
WHERE task_instance_id = $1
`, string(id), string(status), s.clock.Now(), output)
	if err != nil {
		return errs.Transient("postgres.setTerminal", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.Runtime("postgres.setTerminal", fmt.Errorf("no task row for instance %q", id))
	}
	return nil
}

// MarkCompleted implements ports.TaskStore.
func (s *Store) MarkCompleted(ctx context.Context, id ports.TaskInstanceID, resp ports.AgentTaskResponse) error {
	return s.setTerminal(ctx, id, ports.StatusCompleted, resp)
}

// MarkFailed implements ports.TaskStore.
func (s *Store) MarkFailed(ctx context.Context, id ports.TaskInstanceID, resp ports.AgentTaskResponse) error {
	return s.setTerminal(ctx, id, ports.StatusFailed, resp)
}

// MarkPublished implements ports.TaskStore.
func (s *Store) MarkPublished(ctx context.Context, tasks []ports.TaskSpec, correlationID ports.CorrelationID) error {
	batch := &pgx.Batch{}
	for _, t := range tasks {
		input, err := json.Marshal(t.Input)
		if err != nil {
			return errs.Runtime("postgres.MarkPublished", fmt.Errorf("marshal input: %w", err))
		}
		batch.Queue(`
INSERT INTO gale_tasks (task_instance_id, correlation_id, task_kind, status, group_id, branch_id, input)
VALUES ($1, $2, $3, 'published', NULLIF($4, ''), NULLIF($5, ''), $6::jsonb)
ON CONFLICT (task_instance_id) DO NOTHING
`, string(t.TaskInstanceID), string(correlationID), string(t.TaskKind), string(t.GroupID), string(t.BranchID), input)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range tasks {
		if _, err := results.Exec(); err != nil {
			return errs.Transient("postgres.MarkPublished", err)
		}
	}
	return nil
}

// MarkGroupResumed implements the at-most-once gate with a single
// conditional UPDATE: it appends groupID to completed_groups only if it is
// not already present, and the RowsAffected count tells the caller whether
// it won the race.
func (s *Store) MarkGroupResumed(ctx context.Context, parentID ports.TaskInstanceID, groupID ports.GroupID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE gale_tasks
SET completed_groups = completed_groups || to_jsonb($2::text)
WHERE task_instance_id = $1
  AND NOT (completed_groups @> to_jsonb($2::text))
`, string(parentID), string(groupID))
	if err != nil {
		return false, errs.Transient("postgres.MarkGroupResumed", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindGroupTasks implements ports.TaskStore.
func (s *Store) FindGroupTasks(ctx context.Context, correlationID ports.CorrelationID, groupID ports.GroupID) ([]ports.TaskRecord, error) {
	rows, err := s.pool.Query(ctx, taskSelectColumns+`
FROM gale_tasks WHERE correlation_id = $1 AND group_id = $2
`, string(correlationID), string(groupID))
	if err != nil {
		return nil, errs.Transient("postgres.FindGroupTasks", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// FindByInstanceID implements ports.TaskStore.
func (s *Store) FindByInstanceID(ctx context.Context, id ports.TaskInstanceID) (ports.TaskRecord, bool, error) {
	row := s.pool.QueryRow(ctx, taskSelectColumns+`FROM gale_tasks WHERE task_instance_id = $1`, string(id))
	rec, err := scanTaskRow(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ports.TaskRecord{}, false, nil
		}
		return ports.TaskRecord{}, false, errs.Transient("postgres.FindByInstanceID", err)
	}
	return rec, true, nil
}

// FindByCorrelation implements ports.TaskStore.
func (s *Store) FindByCorrelation(ctx context.Context, correlationID ports.CorrelationID) ([]ports.TaskRecord, error) {
	rows, err := s.pool.Query(ctx, taskSelectColumns+`FROM gale_tasks WHERE correlation_id = $1`, string(correlationID))
	if err != nil {
		return nil, errs.Transient("postgres.FindByCorrelation", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// FindAllRoots implements ports.TaskStore.
func (s *Store) FindAllRoots(ctx context.Context) ([]ports.TaskRecord, error) {
	rows, err := s.pool.Query(ctx, taskSelectColumns+`FROM gale_tasks WHERE parent_task_instance_id IS NULL`)
	if err != nil {
		return nil, errs.Transient("postgres.FindAllRoots", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

const taskSelectColumns = `
SELECT task_instance_id, correlation_id, task_kind, agent_name, status, started_at, stopped_at,
       parent_task_kind, parent_task_instance_id, group_id, branch_id, completed_groups, input, output
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(row rowScanner) (ports.TaskRecord, error) {
	var rec ports.TaskRecord
	var parentKind, parentInstance, groupID, branchID *string
	var completedGroups []byte
	var input, output []byte

	if err := row.Scan(&rec.TaskInstanceID, &rec.CorrelationID, &rec.TaskKind, &rec.AgentName, &rec.Status,
		&rec.StartedAt, &rec.StoppedAt, &parentKind, &parentInstance, &groupID, &branchID, &completedGroups,
		&input, &output); err != nil {
		return ports.TaskRecord{}, err
	}

	if parentKind != nil {
		k := ports.TaskKind(*parentKind)
		rec.ParentTaskKind = &k
	}
	if parentInstance != nil {
		i := ports.TaskInstanceID(*parentInstance)
		rec.ParentTaskInstanceID = &i
	}
	if groupID != nil {
		g := ports.GroupID(*groupID)
		rec.GroupID = &g
	}
	if branchID != nil {
		b := ports.BranchID(*branchID)
		rec.BranchID = &b
	}
	if len(completedGroups) > 0 {
		var groups []ports.GroupID
		if err := json.Unmarshal(completedGroups, &groups); err != nil {
			return ports.TaskRecord{}, fmt.Errorf("unmarshal completed_groups: %w", err)
		}
		rec.CompletedGroups = groups
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &rec.Input); err != nil {
			return ports.TaskRecord{}, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &rec.Output); err != nil {
			return ports.TaskRecord{}, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	return rec, nil
}

func scanTaskRows(rows pgx.Rows) ([]ports.TaskRecord, error) {
	var out []ports.TaskRecord
	for rows.Next() {
		rec, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
