package http

import (
	"context"
	"net/http"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// TaskHandler serves the root task submission and task-inspection routes
// (spec §6.1).
type TaskHandler struct {
	deliver  func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error)
	tracker  ports.FlowTracker
	maxBytes int64
}

// NewTaskHandler builds a TaskHandler over the given engine dependency and
// flow tracker.
func NewTaskHandler(deliver func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error), tracker ports.FlowTracker, maxBytes int64) *TaskHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxTaskBodyBytes
	}
	return &TaskHandler{deliver: deliver, tracker: tracker, maxBytes: maxBytes}
}

// createTaskRequest is the body of POST /tasks (spec §6.1).
type createTaskRequest struct {
	TaskKind      string         `json:"taskKind"`
	TaskInputData map[string]any `json:"taskInputData"`
}

// HandleCreateTask submits a new root task and blocks until the first agent
// invocation (and any synchronous chain it triggers) resolves.
func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSONBody(w, r, &req, h.maxBytes) {
		return
	}
	if req.TaskKind == "" {
		writeJSONError(w, http.StatusBadRequest, "taskKind is required", nil)
		return
	}

	task := ports.Task{
		TaskKind: ports.TaskKind(req.TaskKind),
		Input:    req.TaskInputData,
		Command:  ports.Command{Command: ports.CommandStart},
	}

	resp, err := h.deliver(r.Context(), task)
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to deliver task")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListTasks lists every root TaskRecord.
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	records, err := h.tracker.FindAllRoots(r.Context())
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleGetTask returns a single TaskRecord by instance id.
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("taskInstanceId")
	record, found, err := h.tracker.FindByInstanceID(r.Context(), ports.TaskInstanceID(id))
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to load task")
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "task not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
