package http

import (
	"net/http"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// FlowHandler serves the read-only flow document inspection route
// (spec §6.1 GET /flows/{correlationId}).
type FlowHandler struct {
	tracker ports.FlowTracker
}

// NewFlowHandler builds a FlowHandler.
func NewFlowHandler(tracker ports.FlowTracker) *FlowHandler {
	return &FlowHandler{tracker: tracker}
}

// HandleGetFlow returns the persisted flow document's serialized form
// verbatim; it is already JSON, so it is written through unchanged rather
// than round-tripped through another Marshal.
func (h *FlowHandler) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	correlationID := ports.CorrelationID(r.PathValue("correlationId"))
	raw, found, err := h.tracker.LoadFlow(r.Context(), correlationID)
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to load flow")
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "no flow for that correlation id", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
