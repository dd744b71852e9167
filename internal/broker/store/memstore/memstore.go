// Package memstore is an in-process ports.Store implementation: a
// dependency-free stand-in for the Postgres adapter, used by unit tests and
// selected by store.driver "memory" as a dev mode with no database required.
//
// Every conditional-write primitive the spec requires (MarkGroupResumed's
// at-most-once gate, MarkBranchCompleted's single active->completed
// transition, the lock's bounded-retry spin) is implemented for real here,
// guarded by a single mutex that serializes concurrent callers within one
// process, so tracker/engine tests exercise the same conditional-write
// contract as the Postgres adapter.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Store is an in-memory ports.Store.
type Store struct {
	mu sync.Mutex

	tasks    map[ports.TaskInstanceID]*ports.TaskRecord
	branches map[ports.BranchID]*ports.BranchRecord
	flows    map[ports.CorrelationID][]byte
	locks    map[string]bool

	clock ports.Clock

	// LockAttempts and LockBackoff mirror the spec's spin-lock budget
	// (N=10 attempts, ~50ms back-off).
	LockAttempts int
	LockBackoff  time.Duration
}

// New builds an empty in-memory store.
func New(clock ports.Clock) *Store {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Store{
		tasks:        make(map[ports.TaskInstanceID]*ports.TaskRecord),
		branches:     make(map[ports.BranchID]*ports.BranchRecord),
		flows:        make(map[ports.CorrelationID][]byte),
		locks:        make(map[string]bool),
		clock:        clock,
		LockAttempts: 10,
		LockBackoff:  50 * time.Millisecond,
	}
}

var _ ports.Store = (*Store)(nil)

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarkStarted implements ports.TaskStore.
func (s *Store) MarkStarted(ctx context.Context, task ports.Task, agentName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[task.TaskInstanceID]
	if !ok {
		rec = &ports.TaskRecord{}
		s.tasks[task.TaskInstanceID] = rec
	}
	rec.CorrelationID = task.CorrelationID
	rec.TaskKind = task.TaskKind
	rec.TaskInstanceID = task.TaskInstanceID
	rec.AgentName = agentName
	rec.Status = ports.StatusStarted
	rec.StartedAt = s.clock.Now()
	rec.Input = cloneMap(task.Input)
	if task.ParentTask != nil {
		pk := task.ParentTask.TaskKind
		pi := task.ParentTask.TaskInstanceID
		rec.ParentTaskKind = &pk
		rec.ParentTaskInstanceID = &pi
	}
	if task.GroupID != "" {
		g := task.GroupID
		rec.GroupID = &g
	}
	if task.BranchID != "" {
		b := task.BranchID
		rec.BranchID = &b
	}
	return nil
}

func (s *Store) setTerminal(id ports.TaskInstanceID, status ports.Status, resp ports.AgentTaskResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		rec = &ports.TaskRecord{TaskInstanceID: id}
		s.tasks[id] = rec
	}
	if !rec.Status.Forward(status) && rec.Status != "" {
		return errs.Runtime("memstore.setTerminal", errBackwardTransition)
	}
	rec.Status = status
	now := s.clock.Now()
	rec.StoppedAt = &now
	rec.Output = cloneMap(resp.TaskOutput)
	return nil
}

var errBackwardTransition = errBackward{}

type errBackward struct{}

func (errBackward) Error() string { return "task status must move forward" }

// MarkCompleted implements ports.TaskStore.
func (s *Store) MarkCompleted(ctx context.Context, id ports.TaskInstanceID, resp ports.AgentTaskResponse) error {
	return s.setTerminal(id, ports.StatusCompleted, resp)
}

// MarkFailed implements ports.TaskStore.
func (s *Store) MarkFailed(ctx context.Context, id ports.TaskInstanceID, resp ports.AgentTaskResponse) error {
	return s.setTerminal(id, ports.StatusFailed, resp)
}

// MarkPublished implements ports.TaskStore.
func (s *Store) MarkPublished(ctx context.Context, tasks []ports.TaskSpec, correlationID ports.CorrelationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tasks {
		rec := &ports.TaskRecord{
			CorrelationID:  correlationID,
			TaskKind:       t.TaskKind,
			TaskInstanceID: t.TaskInstanceID,
			Status:         ports.StatusPublished,
			Input:          cloneMap(t.Input),
		}
		if t.GroupID != "" {
			g := t.GroupID
			rec.GroupID = &g
		}
		if t.BranchID != "" {
			b := t.BranchID
			rec.BranchID = &b
		}
		s.tasks[t.TaskInstanceID] = rec
	}
	return nil
}

// MarkGroupResumed implements the at-most-once gate: it returns true to
// exactly one caller per (parentID, groupID) pair.
func (s *Store) MarkGroupResumed(ctx context.Context, parentID ports.TaskInstanceID, groupID ports.GroupID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[parentID]
	if !ok {
		rec = &ports.TaskRecord{TaskInstanceID: parentID}
		s.tasks[parentID] = rec
	}
	for _, g := range rec.CompletedGroups {
		if g == groupID {
			return false, nil
		}
	}
	rec.CompletedGroups = append(rec.CompletedGroups, groupID)
	return true, nil
}

// FindGroupTasks implements ports.TaskStore.
func (s *Store) FindGroupTasks(ctx context.Context, correlationID ports.CorrelationID, groupID ports.GroupID) ([]ports.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.TaskRecord
	for _, rec := range s.tasks {
		if rec.CorrelationID != correlationID || rec.GroupID == nil || *rec.GroupID != groupID {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// FindByInstanceID implements ports.TaskStore.
func (s *Store) FindByInstanceID(ctx context.Context, id ports.TaskInstanceID) (ports.TaskRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return ports.TaskRecord{}, false, nil
	}
	return *rec, true, nil
}

// FindByCorrelation implements ports.TaskStore.
func (s *Store) FindByCorrelation(ctx context.Context, correlationID ports.CorrelationID) ([]ports.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.TaskRecord
	for _, rec := range s.tasks {
		if rec.CorrelationID == correlationID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// FindAllRoots implements ports.TaskStore.
func (s *Store) FindAllRoots(ctx context.Context) ([]ports.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ports.TaskRecord
	for _, rec := range s.tasks {
		if rec.ParentTaskInstanceID == nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// CreateBranches implements ports.BranchStore.
func (s *Store) CreateBranches(ctx context.Context, parentInstanceID ports.TaskInstanceID, branches []ports.BranchSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range branches {
		s.branches[b.BranchID] = &ports.BranchRecord{
			BranchID:             b.BranchID,
			ParentTaskInstanceID: parentInstanceID,
			CreatedAt:            s.clock.Now(),
			Status:               ports.BranchActive,
		}
	}
	return nil
}

// MarkBranchCompleted implements the single active->completed transition.
func (s *Store) MarkBranchCompleted(ctx context.Context, branchID ports.BranchID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.branches[branchID]
	if !ok || rec.Status != ports.BranchActive {
		return false, nil
	}
	rec.Status = ports.BranchCompleted
	now := s.clock.Now()
	rec.CompletedAt = &now
	return true, nil
}

// AreBranchesCompleted implements ports.BranchStore.
func (s *Store) AreBranchesCompleted(ctx context.Context, branchIDs []ports.BranchID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range branchIDs {
		rec, ok := s.branches[id]
		if !ok || rec.Status != ports.BranchCompleted {
			return false, nil
		}
	}
	return true, nil
}

// CreateFlow implements ports.FlowStore.
func (s *Store) CreateFlow(ctx context.Context, correlationID ports.CorrelationID, rootJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(rootJSON))
	copy(buf, rootJSON)
	s.flows[correlationID] = buf
	return nil
}

// LoadFlow implements ports.FlowStore.
func (s *Store) LoadFlow(ctx context.Context, correlationID ports.CorrelationID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.flows[correlationID]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return buf, true, nil
}

// SaveFlow implements ports.FlowStore.
func (s *Store) SaveFlow(ctx context.Context, correlationID ports.CorrelationID, rootJSON []byte) error {
	return s.CreateFlow(ctx, correlationID, rootJSON)
}

// AcquireLock implements ports.LockStore with the spec's bounded spin
// (N=10 attempts, ~50ms back-off): §4.4, §4.5, §9.
func (s *Store) AcquireLock(ctx context.Context, id string) error {
	for attempt := 0; attempt < s.LockAttempts; attempt++ {
		s.mu.Lock()
		if !s.locks[id] {
			s.locks[id] = true
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return errs.Transient("memstore.AcquireLock", ctx.Err())
		case <-time.After(s.LockBackoff):
		}
	}
	return errs.LockContention("memstore.AcquireLock", id)
}

// ReleaseLock implements ports.LockStore.
func (s *Store) ReleaseLock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, id)
	return nil
}
