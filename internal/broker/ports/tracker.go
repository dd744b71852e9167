package ports

import "context"

// FlowTracker is the façade the execution engine depends on, combining
// status writes with flow-graph navigation (spec §4.5). The concrete
// implementation lives in internal/broker/tracker; engine depends only on
// this interface so it can be exercised against fakes in tests.
type FlowTracker interface {
	RootAgentStarted(ctx context.Context, agentName string, task Task) error
	AgentStarted(ctx context.Context, agentName string, task Task) error
	AgentCompleted(ctx context.Context, taskInstanceID TaskInstanceID, resp AgentTaskResponse) error
	AgentFailed(ctx context.Context, taskInstanceID TaskInstanceID, resp AgentTaskResponse) error

	Branch(ctx context.Context, correlationID CorrelationID, parentInstanceID TaskInstanceID, branches []BranchSpec) error

	IsGroupDone(ctx context.Context, correlationID CorrelationID, groupID GroupID) (bool, error)
	MarkBranchCompleted(ctx context.Context, correlationID CorrelationID, branchID BranchID) error
	AreSiblingBranchesCompleted(ctx context.Context, correlationID CorrelationID, branchID BranchID) (bool, error)

	MarkGroupResumed(ctx context.Context, parentInstanceID TaskInstanceID, groupID GroupID) (bool, error)
	FindGroupTasks(ctx context.Context, correlationID CorrelationID, groupID GroupID) ([]TaskRecord, error)
	FindByInstanceID(ctx context.Context, id TaskInstanceID) (TaskRecord, bool, error)
	FindByCorrelation(ctx context.Context, correlationID CorrelationID) ([]TaskRecord, error)
	FindAllRoots(ctx context.Context) ([]TaskRecord, error)

	// LoadFlow returns the raw serialized flow document for correlationID,
	// used by the read-only flow inspection route (spec §6.1).
	LoadFlow(ctx context.Context, correlationID CorrelationID) ([]byte, bool, error)
}
