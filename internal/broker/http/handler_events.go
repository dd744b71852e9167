package http

import (
	"context"
	"io"
	"net/http"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// EventHandler serves the bus delivery point used where the bus pushes
// rather than pulls (spec §6.1 POST /events/agent).
type EventHandler struct {
	deliver  func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error)
	bus      ports.Bus
	maxBytes int64
}

// NewEventHandler builds an EventHandler.
func NewEventHandler(deliver func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error), bus ports.Bus, maxBytes int64) *EventHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxTaskBodyBytes
	}
	return &EventHandler{deliver: deliver, bus: bus, maxBytes: maxBytes}
}

// HandleAgentEvent decodes a bus envelope, unwraps its payload into a Task,
// and delivers it to the execution engine exactly like a directly submitted
// one (spec §6.3).
func (h *EventHandler) HandleAgentEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, h.maxBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	task, err := ports.DecodeTask(h.bus, raw)
	if err != nil {
		writeMappedError(w, errs.Validation("http.HandleAgentEvent", err), http.StatusBadRequest, "malformed bus envelope")
		return
	}

	resp, err := h.deliver(r.Context(), task)
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to deliver task")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
