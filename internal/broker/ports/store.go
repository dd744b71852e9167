package ports

import "context"

// TaskStore persists per-task records and implements the broker's
// conditional-write concurrency primitives (spec §4.4). All operations are
// idempotent when the inputs are unchanged.
type TaskStore interface {
	// MarkStarted upserts by TaskInstanceID, setting status=started plus
	// input, timestamps, and parent/branch/group linkage.
	MarkStarted(ctx context.Context, task Task, agentName string) error

	// MarkCompleted sets status=completed, stoppedAt, and output.
	MarkCompleted(ctx context.Context, id TaskInstanceID, resp AgentTaskResponse) error

	// MarkFailed sets status=failed, stoppedAt, and output.
	MarkFailed(ctx context.Context, id TaskInstanceID, resp AgentTaskResponse) error

	// MarkPublished inserts one row per spec with status=published.
	MarkPublished(ctx context.Context, tasks []TaskSpec, correlationID CorrelationID) error

	// MarkGroupResumed performs the at-most-once gate: it adds groupID to
	// parentID's completedGroups set only if absent, and reports true to
	// exactly one concurrent caller.
	MarkGroupResumed(ctx context.Context, parentID TaskInstanceID, groupID GroupID) (bool, error)

	// FindGroupTasks returns every TaskRecord sharing correlationID and
	// groupID, used to decide group completion.
	FindGroupTasks(ctx context.Context, correlationID CorrelationID, groupID GroupID) ([]TaskRecord, error)

	FindByInstanceID(ctx context.Context, id TaskInstanceID) (TaskRecord, bool, error)
	FindByCorrelation(ctx context.Context, correlationID CorrelationID) ([]TaskRecord, error)
	FindAllRoots(ctx context.Context) ([]TaskRecord, error)
}

// BranchStore persists branch records and their active/completed lifecycle.
type BranchStore interface {
	// CreateBranches inserts one BranchRecord per branch, status=active.
	CreateBranches(ctx context.Context, parentInstanceID TaskInstanceID, branches []BranchSpec) error

	// MarkBranchCompleted performs the single active->completed transition
	// and reports whether this caller performed it.
	MarkBranchCompleted(ctx context.Context, branchID BranchID) (bool, error)

	// AreBranchesCompleted reports true iff every id is present and
	// completed. An empty input is vacuously true.
	AreBranchesCompleted(ctx context.Context, branchIDs []BranchID) (bool, error)
}

// FlowStore persists the per-correlation flow document, serialized with no
// back pointers (spec §3.2, §4.3).
type FlowStore interface {
	CreateFlow(ctx context.Context, correlationID CorrelationID, rootJSON []byte) error
	LoadFlow(ctx context.Context, correlationID CorrelationID) ([]byte, bool, error)
	SaveFlow(ctx context.Context, correlationID CorrelationID, rootJSON []byte) error
}

// LockStore implements the generic optimistic spin-lock primitive backing
// the flow tracker's per-correlation lock (spec §4.4, §4.5, §9): a
// conditional write on a document setting locked=true, bounded retries, and
// the complement write on release.
type LockStore interface {
	// AcquireLock attempts up to the implementation's retry budget (spec:
	// N=10 attempts, ~50ms back-off) to set locked=true on id. It returns
	// errs.KindLockContention once the budget is exhausted.
	AcquireLock(ctx context.Context, id string) error
	ReleaseLock(ctx context.Context, id string) error
}

// Store is the full persistence port the flow tracker depends on.
type Store interface {
	TaskStore
	BranchStore
	FlowStore
	LockStore
}
