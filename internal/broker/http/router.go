// Package http is gale-broker's inbound HTTP surface (spec §6.1). It uses
// the standard library's net/http.ServeMux with Go 1.22+ method-specific
// route patterns, the same shape the teacher's
// internal/delivery/server/http/router.go uses — not gin, which the teacher
// carries in go.mod but never imports anywhere in its own tree.
package http

import (
	"net/http"
)

// NewRouter builds the complete HTTP handler: routes plus the middleware
// chain.
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	maxBytes := cfg.MaxTaskBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxTaskBodyBytes
	}

	taskHandler := NewTaskHandler(deps.Engine.Deliver, deps.Tracker, maxBytes)
	eventHandler := NewEventHandler(deps.Engine.Deliver, deps.Bus, maxBytes)
	catalogHandler := NewCatalogHandler(deps.Catalog)
	flowHandler := NewFlowHandler(deps.Tracker)
	healthHandler := NewHealthHandler(deps.HealthChecks...)

	mux := http.NewServeMux()

	mux.Handle("POST /tasks", http.HandlerFunc(taskHandler.HandleCreateTask))
	mux.Handle("GET /tasks", http.HandlerFunc(taskHandler.HandleListTasks))
	mux.Handle("GET /tasks/{taskInstanceId}", http.HandlerFunc(taskHandler.HandleGetTask))

	mux.Handle("POST /events/agent", http.HandlerFunc(eventHandler.HandleAgentEvent))

	mux.Handle("POST /catalog/agents", http.HandlerFunc(catalogHandler.HandleRegister))
	mux.Handle("PUT /catalog/agents", http.HandlerFunc(catalogHandler.HandleReplace))
	mux.Handle("GET /catalog/agents", http.HandlerFunc(catalogHandler.HandleList))
	mux.Handle("DELETE /catalog/agents/{kind}", http.HandlerFunc(catalogHandler.HandleRemove))
	mux.Handle("GET /catalog/agents/{kind}", http.HandlerFunc(catalogHandler.HandleGet))

	mux.Handle("GET /flows/{correlationId}", http.HandlerFunc(flowHandler.HandleGetFlow))

	mux.Handle("GET /health", http.HandlerFunc(healthHandler.HandleHealth))

	var handler http.Handler = mux
	handler = LoggingMiddleware(deps.Logger)(handler)
	handler = CORSMiddleware(cfg.Environment, cfg.AllowedOrigins)(handler)

	return handler
}
