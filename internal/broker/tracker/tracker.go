// Package tracker implements the flow tracker: the façade combining the
// status store with the in-memory flow graph (spec §4.5). Every mutation
// that touches the flow document is serialized by a per-correlation lock
// acquired through ports.LockStore; the lock is never held across an agent
// HTTP call, only across the narrow load/edit/save sequence in Branch and
// MarkBranchCompleted.
package tracker

import (
	"context"
	"fmt"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/graph"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Tracker is the flow tracker. It is safe for concurrent use; all document
// mutation is serialized through the store's per-correlation lock.
type Tracker struct {
	store  ports.Store
	logger ports.Logger
}

// New builds a Tracker over store, logging through logger.
func New(store ports.Store, logger ports.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

var _ ports.FlowTracker = (*Tracker)(nil)

func lockID(correlationID ports.CorrelationID) string {
	return fmt.Sprintf("flow:%s", correlationID)
}

func (t *Tracker) withFlowLock(ctx context.Context, correlationID ports.CorrelationID, fn func() error) error {
	if err := t.store.AcquireLock(ctx, lockID(correlationID)); err != nil {
		return err
	}
	defer func() {
		if err := t.store.ReleaseLock(ctx, lockID(correlationID)); err != nil {
			t.logger.Warn("tracker: failed releasing flow lock", "correlationId", correlationID, "err", err)
		}
	}()
	return fn()
}

// RootAgentStarted records the first invocation of a root task: it writes
// the started status and creates a brand-new flow document with a single
// Agent node root.
func (t *Tracker) RootAgentStarted(ctx context.Context, agentName string, task ports.Task) error {
	if err := t.store.MarkStarted(ctx, task, agentName); err != nil {
		return errs.Transient("tracker.RootAgentStarted", err)
	}

	doc := graph.NewDocument(task.CorrelationID, task.TaskKind, task.TaskInstanceID)
	raw, err := graph.ToSerialized(doc.Root)
	if err != nil {
		return errs.Runtime("tracker.RootAgentStarted", err)
	}

	if err := t.store.CreateFlow(ctx, task.CorrelationID, raw); err != nil {
		return errs.Transient("tracker.RootAgentStarted", err)
	}
	return nil
}

// AgentStarted records a started status for a task whose node the flow
// already contains — either a subtask the parent branched onto, or a fresh
// instance standing in for a resumed span. For a resumption, the node the
// resumed span previously occupied is rekeyed onto the new instance id
// under the flow lock, so a later Branch call on this task can still find
// it (spec §8 S4/S5: the same parent keeps branching across resumes).
func (t *Tracker) AgentStarted(ctx context.Context, agentName string, task ports.Task) error {
	if err := t.store.MarkStarted(ctx, task, agentName); err != nil {
		return errs.Transient("tracker.AgentStarted", err)
	}

	if task.Command.Command == ports.CommandResume && task.ResumesInstanceID != "" {
		if err := t.withFlowLock(ctx, task.CorrelationID, func() error {
			doc, err := t.loadDocument(ctx, task.CorrelationID)
			if err != nil {
				return err
			}
			if err := doc.RekeyAgentNode(task.ResumesInstanceID, task.TaskInstanceID); err != nil {
				return errs.Runtime("tracker.AgentStarted", err)
			}
			return t.saveDocument(ctx, task.CorrelationID, doc)
		}); err != nil {
			return err
		}
	}
	return nil
}

// AgentCompleted records a completed status.
func (t *Tracker) AgentCompleted(ctx context.Context, taskInstanceID ports.TaskInstanceID, resp ports.AgentTaskResponse) error {
	if err := t.store.MarkCompleted(ctx, taskInstanceID, resp); err != nil {
		return errs.Transient("tracker.AgentCompleted", err)
	}
	return nil
}

// AgentFailed records a failed status.
func (t *Tracker) AgentFailed(ctx context.Context, taskInstanceID ports.TaskInstanceID, resp ports.AgentTaskResponse) error {
	if err := t.store.MarkFailed(ctx, taskInstanceID, resp); err != nil {
		return errs.Transient("tracker.AgentFailed", err)
	}
	return nil
}

// MarkGroupResumed performs the at-most-once parent-resumption gate: it
// returns true to exactly one concurrent caller per (parentInstanceId,
// groupId) pair (spec §4.6 step 2, P2).
func (t *Tracker) MarkGroupResumed(ctx context.Context, parentInstanceID ports.TaskInstanceID, groupID ports.GroupID) (bool, error) {
	won, err := t.store.MarkGroupResumed(ctx, parentInstanceID, groupID)
	if err != nil {
		return false, errs.Transient("tracker.MarkGroupResumed", err)
	}
	return won, nil
}

// FindGroupTasks returns every TaskRecord sharing correlationID and groupID.
func (t *Tracker) FindGroupTasks(ctx context.Context, correlationID ports.CorrelationID, groupID ports.GroupID) ([]ports.TaskRecord, error) {
	recs, err := t.store.FindGroupTasks(ctx, correlationID, groupID)
	if err != nil {
		return nil, errs.Transient("tracker.FindGroupTasks", err)
	}
	return recs, nil
}

// FindByInstanceID returns the TaskRecord for id, if any.
func (t *Tracker) FindByInstanceID(ctx context.Context, id ports.TaskInstanceID) (ports.TaskRecord, bool, error) {
	rec, ok, err := t.store.FindByInstanceID(ctx, id)
	if err != nil {
		return ports.TaskRecord{}, false, errs.Transient("tracker.FindByInstanceID", err)
	}
	return rec, ok, nil
}

// FindByCorrelation returns every TaskRecord sharing correlationID.
func (t *Tracker) FindByCorrelation(ctx context.Context, correlationID ports.CorrelationID) ([]ports.TaskRecord, error) {
	recs, err := t.store.FindByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, errs.Transient("tracker.FindByCorrelation", err)
	}
	return recs, nil
}

// FindAllRoots returns every root TaskRecord.
func (t *Tracker) FindAllRoots(ctx context.Context) ([]ports.TaskRecord, error) {
	recs, err := t.store.FindAllRoots(ctx)
	if err != nil {
		return nil, errs.Transient("tracker.FindAllRoots", err)
	}
	return recs, nil
}

// Branch publishes the given branches as TaskRecords, creates their branch
// rows, and attaches the corresponding subtree to the flow document under
// the per-correlation lock (spec §4.5 branch()).
func (t *Tracker) Branch(ctx context.Context, correlationID ports.CorrelationID, parentInstanceID ports.TaskInstanceID, branches []ports.BranchSpec) error {
	var allTasks []ports.TaskSpec
	for _, b := range branches {
		allTasks = append(allTasks, b.Tasks...)
	}
	if err := t.store.MarkPublished(ctx, allTasks, correlationID); err != nil {
		return errs.Transient("tracker.Branch", err)
	}
	if err := t.store.CreateBranches(ctx, parentInstanceID, branches); err != nil {
		return errs.Transient("tracker.Branch", err)
	}

	return t.withFlowLock(ctx, correlationID, func() error {
		doc, err := t.loadDocument(ctx, correlationID)
		if err != nil {
			return err
		}

		attachments := make([]graph.BranchAttachment, 0, len(branches))
		for _, b := range branches {
			var groupID ports.GroupID
			tasks := make([]graph.TaskNodeSpec, 0, len(b.Tasks))
			for _, spec := range b.Tasks {
				tasks = append(tasks, graph.TaskNodeSpec{TaskInstanceID: spec.TaskInstanceID, TaskKind: spec.TaskKind})
				groupID = spec.GroupID
			}
			attachments = append(attachments, graph.BranchAttachment{BranchID: b.BranchID, GroupID: groupID, Tasks: tasks})
		}

		if err := doc.Branch(parentInstanceID, attachments); err != nil {
			return errs.Runtime("tracker.Branch", err)
		}

		return t.saveDocument(ctx, correlationID, doc)
	})
}

// IsGroupDone reports whether every TaskRecord sharing groupId has status
// completed (spec P6). A group with no recorded tasks is not done.
func (t *Tracker) IsGroupDone(ctx context.Context, correlationID ports.CorrelationID, groupID ports.GroupID) (bool, error) {
	records, err := t.store.FindGroupTasks(ctx, correlationID, groupID)
	if err != nil {
		return false, errs.Transient("tracker.IsGroupDone", err)
	}
	if len(records) == 0 {
		return false, nil
	}
	for _, rec := range records {
		if rec.Status != ports.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// MarkBranchCompleted performs the branch's active->completed transition
// and, if this caller performed it, checks whether every sibling branch is
// now completed; if so it cascades the same operation to the enclosing
// parent branch, if any. Recursion is bounded by the tree's depth.
func (t *Tracker) MarkBranchCompleted(ctx context.Context, correlationID ports.CorrelationID, branchID ports.BranchID) error {
	transitioned, err := t.store.MarkBranchCompleted(ctx, branchID)
	if err != nil {
		return errs.Transient("tracker.MarkBranchCompleted", err)
	}
	if !transitioned {
		return nil
	}

	siblings, parentBranchID, hasParent, err := t.branchContext(ctx, correlationID, branchID)
	if err != nil {
		return err
	}

	allDone, err := t.store.AreBranchesCompleted(ctx, siblings)
	if err != nil {
		return errs.Transient("tracker.MarkBranchCompleted", err)
	}
	if !allDone || !hasParent {
		return nil
	}

	return t.MarkBranchCompleted(ctx, correlationID, parentBranchID)
}

// LoadFlow returns the raw serialized flow document for correlationID, with
// no lock held: callers only read it, they never feed it back into Branch
// or MarkBranchCompleted.
func (t *Tracker) LoadFlow(ctx context.Context, correlationID ports.CorrelationID) ([]byte, bool, error) {
	raw, ok, err := t.store.LoadFlow(ctx, correlationID)
	if err != nil {
		return nil, false, errs.Transient("tracker.LoadFlow", err)
	}
	return raw, ok, nil
}

// AreSiblingBranchesCompleted reports whether every branch sharing
// branchId's enclosing BranchNode is completed, used by the engine to
// decide whether an outer branch is done (spec §4.6, scenario S4).
func (t *Tracker) AreSiblingBranchesCompleted(ctx context.Context, correlationID ports.CorrelationID, branchID ports.BranchID) (bool, error) {
	siblings, _, _, err := t.branchContext(ctx, correlationID, branchID)
	if err != nil {
		return false, err
	}
	done, err := t.store.AreBranchesCompleted(ctx, siblings)
	if err != nil {
		return false, errs.Transient("tracker.AreSiblingBranchesCompleted", err)
	}
	return done, nil
}

// branchContext loads the flow under the per-correlation lock and returns
// branchId's sibling set plus its enclosing branch id, if any.
func (t *Tracker) branchContext(ctx context.Context, correlationID ports.CorrelationID, branchID ports.BranchID) (siblings []ports.BranchID, parentBranchID ports.BranchID, hasParent bool, err error) {
	lockErr := t.withFlowLock(ctx, correlationID, func() error {
		doc, loadErr := t.loadDocument(ctx, correlationID)
		if loadErr != nil {
			return loadErr
		}
		siblings = doc.SiblingBranches(branchID)
		parentBranchID, hasParent = doc.ParentBranchID(branchID)
		return nil
	})
	if lockErr != nil {
		return nil, "", false, lockErr
	}
	return siblings, parentBranchID, hasParent, nil
}

func (t *Tracker) loadDocument(ctx context.Context, correlationID ports.CorrelationID) (*graph.Document, error) {
	raw, ok, err := t.store.LoadFlow(ctx, correlationID)
	if err != nil {
		return nil, errs.Transient("tracker.loadDocument", err)
	}
	if !ok {
		return nil, errs.Runtime("tracker.loadDocument", fmt.Errorf("no flow document for correlation %q", correlationID))
	}
	root, err := graph.FromSerialized(raw)
	if err != nil {
		return nil, errs.Runtime("tracker.loadDocument", err)
	}
	return &graph.Document{CorrelationID: correlationID, Root: root}, nil
}

func (t *Tracker) saveDocument(ctx context.Context, correlationID ports.CorrelationID, doc *graph.Document) error {
	raw, err := graph.ToSerialized(doc.Root)
	if err != nil {
		return errs.Runtime("tracker.saveDocument", err)
	}
	if err := t.store.SaveFlow(ctx, correlationID, raw); err != nil {
		return errs.Transient("tracker.saveDocument", err)
	}
	return nil
}
