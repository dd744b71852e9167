package http

import (
	"net/http"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// CatalogHandler serves the agent catalog CRUD surface. Per spec §6.1 this
// is explicitly out of core scope ("surface only"); gale-broker backs it
// with a real in-memory/file catalog (SUPPLEMENTED FEATURES §1) rather than
// stubbing it, but the execution engine never imports this handler.
type CatalogHandler struct {
	catalog ports.AgentCatalog
}

// NewCatalogHandler builds a CatalogHandler over catalog.
func NewCatalogHandler(catalog ports.AgentCatalog) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// HandleRegister handles POST /catalog/agents.
func (h *CatalogHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var agent ports.AgentDefinition
	if !decodeJSONBody(w, r, &agent, defaultMaxTaskBodyBytes) {
		return
	}
	if agent.TaskKind == "" {
		writeJSONError(w, http.StatusBadRequest, "taskKind is required", nil)
		return
	}
	if err := h.catalog.Register(r.Context(), agent); err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to register agent")
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// HandleReplace handles PUT /catalog/agents.
func (h *CatalogHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	var agent ports.AgentDefinition
	if !decodeJSONBody(w, r, &agent, defaultMaxTaskBodyBytes) {
		return
	}
	if agent.TaskKind == "" {
		writeJSONError(w, http.StatusBadRequest, "taskKind is required", nil)
		return
	}
	if err := h.catalog.Replace(r.Context(), agent); err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to replace agent")
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// HandleRemove handles DELETE /catalog/agents/{kind}.
func (h *CatalogHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	kind := ports.TaskKind(r.PathValue("kind"))
	if err := h.catalog.Remove(r.Context(), kind); err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to remove agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /catalog/agents.
func (h *CatalogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agents, err := h.catalog.List(r.Context())
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to list agents")
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

// HandleGet handles GET /catalog/agents/{kind}.
func (h *CatalogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	kind := ports.TaskKind(r.PathValue("kind"))
	agent, found, err := h.catalog.FindAgentByTaskKind(r.Context(), kind)
	if err != nil {
		writeMappedError(w, err, http.StatusInternalServerError, "failed to load agent")
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "no agent registered for that task kind", nil)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
