// Package engine implements the task execution engine: classification of a
// delivered Task, invocation of the matching agent, and propagation of its
// response (spec §4.6).
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Engine is the task execution engine.
type Engine struct {
	catalog ports.AgentCatalog
	invoker ports.AgentInvoker
	tracker ports.FlowTracker
	bus     ports.Bus
	idgen   ports.IDGenerator
	clock   ports.Clock
	logger  ports.Logger
	metrics ports.Metrics
}

// New builds an Engine from its dependencies. Metrics default to a no-op
// recorder; call SetMetrics to attach a real one.
func New(catalog ports.AgentCatalog, invoker ports.AgentInvoker, tracker ports.FlowTracker, bus ports.Bus, idgen ports.IDGenerator, clock ports.Clock, logger ports.Logger) *Engine {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Engine{catalog: catalog, invoker: invoker, tracker: tracker, bus: bus, idgen: idgen, clock: clock, logger: logger, metrics: ports.NoopMetrics{}}
}

// SetMetrics attaches a Metrics recorder, replacing the default no-op.
func (e *Engine) SetMetrics(m ports.Metrics) {
	if m != nil {
		e.metrics = m
	}
}

// Deliver classifies and executes one delivered task, returning the agent's
// response (spec §4.6 per-delivery algorithm).
func (e *Engine) Deliver(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error) {
	agent, found, err := e.catalog.FindAgentByTaskKind(ctx, task.TaskKind)
	if err != nil {
		return ports.AgentTaskResponse{}, errs.Transient("engine.Deliver", err)
	}
	if !found {
		return ports.AgentTaskResponse{}, errs.AgentNotFound("engine.Deliver", string(task.TaskKind))
	}

	switch {
	case task.IsRootFirstStart():
		return e.deliverRootFirstStart(ctx, agent, task)
	case task.IsSubtaskStart():
		return e.deliverSubtaskStart(ctx, agent, task)
	case task.IsRootResumption():
		return e.deliverRootResumption(ctx, agent, task)
	default:
		return ports.AgentTaskResponse{}, errs.Validation("engine.Deliver", fmt.Errorf("task %s matches no delivery classification", task.TaskInstanceID))
	}
}

func (e *Engine) deliverRootFirstStart(ctx context.Context, agent ports.AgentDefinition, task ports.Task) (ports.AgentTaskResponse, error) {
	task.CorrelationID = e.idgen.NewCorrelationID()
	task.TaskInstanceID = e.idgen.NewTaskInstanceID()

	if err := e.tracker.RootAgentStarted(ctx, agent.Name, task); err != nil {
		return ports.AgentTaskResponse{}, err
	}
	e.metrics.IncTaskStarted(ctx)

	resp, err := e.invoker.Execute(ctx, agent, task)
	if err != nil {
		return ports.AgentTaskResponse{}, err
	}

	if err := e.dispatch(ctx, task, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (e *Engine) deliverSubtaskStart(ctx context.Context, agent ports.AgentDefinition, task ports.Task) (ports.AgentTaskResponse, error) {
	if err := e.tracker.AgentStarted(ctx, agent.Name, task); err != nil {
		return ports.AgentTaskResponse{}, err
	}
	e.metrics.IncTaskStarted(ctx)

	resp, err := e.invoker.Execute(ctx, agent, task)
	if err != nil {
		return ports.AgentTaskResponse{}, err
	}

	if err := e.dispatch(ctx, task, resp); err != nil {
		return resp, err
	}

	if resp.StopReason == ports.StopCompleted || resp.StopReason == ports.StopFailed {
		if err := e.handleChildCompletion(ctx, task, resp); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (e *Engine) deliverRootResumption(ctx context.Context, agent ports.AgentDefinition, task ports.Task) (ports.AgentTaskResponse, error) {
	if err := e.tracker.AgentStarted(ctx, agent.Name, task); err != nil {
		return ports.AgentTaskResponse{}, err
	}

	resp, err := e.invoker.Execute(ctx, agent, task)
	if err != nil {
		return ports.AgentTaskResponse{}, err
	}

	if err := e.dispatch(ctx, task, resp); err != nil {
		return resp, err
	}

	if resp.StopReason == ports.StopCompleted {
		if err := e.handleParentSpanCompletion(ctx, task, resp); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// dispatch records the agent's response and, for a subtasks response,
// branches the flow and publishes every child onto the bus.
func (e *Engine) dispatch(ctx context.Context, task ports.Task, resp ports.AgentTaskResponse) error {
	switch resp.StopReason {
	case ports.StopCompleted:
		if err := e.tracker.AgentCompleted(ctx, task.TaskInstanceID, resp); err != nil {
			return err
		}
		e.metrics.IncTaskCompleted(ctx)
		return nil
	case ports.StopFailed:
		// For a root-first-start the failure is surfaced directly to the
		// HTTP caller by Deliver's return value; for a subtask it falls
		// through to handleChildCompletion so the parent can resume and
		// observe it via childrenOutputs.
		if err := e.tracker.AgentFailed(ctx, task.TaskInstanceID, resp); err != nil {
			return err
		}
		e.metrics.IncTaskFailed(ctx)
		return nil
	case ports.StopSubtasks:
		return e.dispatchSubtasks(ctx, task, resp)
	default:
		return errs.Protocol("engine.dispatch", fmt.Errorf("unknown stop reason %q", resp.StopReason))
	}
}

func (e *Engine) dispatchSubtasks(ctx context.Context, task ports.Task, resp ports.AgentTaskResponse) error {
	branches := make([]ports.BranchSpec, 0, len(resp.Subtasks))
	for _, group := range resp.Subtasks {
		branchID := e.idgen.NewBranchID()
		groupID := group.GroupID
		if groupID == "" {
			groupID = e.idgen.NewGroupID()
		}

		specs := make([]ports.TaskSpec, 0, len(group.Tasks))
		for _, tr := range group.Tasks {
			specs = append(specs, ports.TaskSpec{
				TaskInstanceID: e.idgen.NewTaskInstanceID(),
				TaskKind:       tr.TaskKind,
				Input:          tr.InputData,
				GroupID:        groupID,
				BranchID:       branchID,
			})
		}
		branches = append(branches, ports.BranchSpec{BranchID: branchID, Tasks: specs})
	}

	if err := e.tracker.Branch(ctx, task.CorrelationID, task.TaskInstanceID, branches); err != nil {
		return err
	}

	// Every child is published independently: one slow or failing publish
	// must not stop its siblings from going out, so failures are collected
	// rather than short-circuited on the first one.
	var g multierror.Group
	for _, branch := range branches {
		for _, spec := range branch.Tasks {
			spec := spec
			g.Go(func() error {
				return e.publishChild(ctx, task, spec)
			})
		}
	}
	if merr := g.Wait(); merr != nil {
		return merr
	}
	return nil
}

func (e *Engine) publishChild(ctx context.Context, parent ports.Task, spec ports.TaskSpec) error {
	child := ports.Task{
		CorrelationID:  parent.CorrelationID,
		TaskKind:       spec.TaskKind,
		TaskInstanceID: spec.TaskInstanceID,
		Input:          spec.Input,
		Command:        ports.Command{Command: ports.CommandStart},
		ParentTask:     &ports.ParentRef{TaskKind: parent.TaskKind, TaskInstanceID: parent.TaskInstanceID},
		GroupID:        spec.GroupID,
		BranchID:       spec.BranchID,
	}
	return e.publishTask(ctx, child)
}

// handleChildCompletion is executed when a subtask finishes, deciding
// at-most-once parent resumption per group and propagating branch
// completion (spec §4.6, the hardest piece).
func (e *Engine) handleChildCompletion(ctx context.Context, task ports.Task, resp ports.AgentTaskResponse) error {
	groupID := task.GroupID
	if groupID == "" {
		// Not part of a group: nothing to resume or cascade.
		return nil
	}

	done, err := e.tracker.IsGroupDone(ctx, task.CorrelationID, groupID)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	parent := task.ParentTask
	if parent == nil {
		return errs.Runtime("engine.handleChildCompletion", fmt.Errorf("subtask %s completing group %s carries no parent", task.TaskInstanceID, groupID))
	}

	won, err := e.tracker.MarkGroupResumed(ctx, parent.TaskInstanceID, groupID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	e.metrics.IncGroupResumed(ctx)

	groupRecords, err := e.tracker.FindGroupTasks(ctx, task.CorrelationID, groupID)
	if err != nil {
		return err
	}
	childrenOutputs := make(map[string]any, len(groupRecords))
	for _, rec := range groupRecords {
		childrenOutputs[string(rec.TaskInstanceID)] = rec.Output
	}

	parentRecord, found, err := e.tracker.FindByInstanceID(ctx, parent.TaskInstanceID)
	if err != nil {
		return err
	}
	if !found {
		return errs.Runtime("engine.handleChildCompletion", fmt.Errorf("parent task %s not found", parent.TaskInstanceID))
	}

	originalInput := parentRecord.Input
	if nested, ok := parentRecord.Input["originalInput"]; ok {
		if m, ok := nested.(map[string]any); ok {
			originalInput = m
		}
	}

	resumeTask := ports.Task{
		CorrelationID:     task.CorrelationID,
		TaskKind:          parentRecord.TaskKind,
		TaskInstanceID:    e.idgen.NewTaskInstanceID(),
		ResumesInstanceID: parent.TaskInstanceID,
		Input: map[string]any{
			"originalInput":   originalInput,
			"childrenOutputs": childrenOutputs,
		},
		Command:    ports.Command{Command: ports.CommandResume, CompletedTaskGroupID: groupID},
		ParentTask: parentParentRef(parentRecord),
	}
	// The resume inherits the original parent's own branch membership, if
	// any, so a later handleParentSpanCompletion can cascade the right
	// branch upward.
	if parentRecord.BranchID != nil {
		resumeTask.BranchID = *parentRecord.BranchID
	}

	if err := e.publishTask(ctx, resumeTask); err != nil {
		return err
	}

	// The branch wraps this group: its completion cascades upward.
	if task.BranchID != "" {
		if err := e.tracker.MarkBranchCompleted(ctx, task.CorrelationID, task.BranchID); err != nil {
			return err
		}
		e.metrics.IncBranchClosed(ctx)
	}
	return nil
}

// parentParentRef copies the grandparent reference off of a parent's
// TaskRecord, so the resume task keeps the original parent's position in
// the flow rather than pointing at the child that just finished.
func parentParentRef(rec ports.TaskRecord) *ports.ParentRef {
	if rec.ParentTaskKind == nil || rec.ParentTaskInstanceID == nil {
		return nil
	}
	return &ports.ParentRef{TaskKind: *rec.ParentTaskKind, TaskInstanceID: *rec.ParentTaskInstanceID}
}

// handleParentSpanCompletion runs when a resumed parent span itself
// completes with no further subtasks: its output is final for this span. If
// the span belonged to an inner branch, that branch is now complete and the
// tracker cascades the propagation upward.
func (e *Engine) handleParentSpanCompletion(ctx context.Context, task ports.Task, resp ports.AgentTaskResponse) error {
	if task.BranchID == "" {
		return nil
	}
	if err := e.tracker.MarkBranchCompleted(ctx, task.CorrelationID, task.BranchID); err != nil {
		return err
	}
	e.metrics.IncBranchClosed(ctx)
	return nil
}

func (e *Engine) publishTask(ctx context.Context, task ports.Task) error {
	payload, err := taskToPayload(task)
	if err != nil {
		return errs.Runtime("engine.publishTask", err)
	}

	env := ports.Envelope{
		Type:      ports.EnvelopeType,
		CID:       string(task.CorrelationID),
		Timestamp: e.clock.Now().UnixMilli(),
		Payload:   payload,
	}
	if err := ports.ValidateEnvelope(env); err != nil {
		return errs.Validation("engine.publishTask", err)
	}

	if err := e.bus.Publish(ctx, string(task.TaskKind), env); err != nil {
		return errs.Transient("engine.publishTask", err)
	}
	return nil
}

func taskToPayload(task ports.Task) (map[string]any, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
