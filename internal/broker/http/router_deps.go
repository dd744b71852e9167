package http

import (
	"github.com/nicolasances/gale-broker/internal/broker/engine"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// RouterDeps holds every dependency the HTTP router wires into its handlers.
type RouterDeps struct {
	Engine  *engine.Engine
	Tracker ports.FlowTracker
	Catalog ports.AgentCatalog
	Bus     ports.Bus
	Logger  ports.Logger

	// HealthChecks are dependency probes (store ping, bus ping, ...) wired
	// into GET /health. Nil or empty means liveness-only.
	HealthChecks []HealthCheck
}

// RouterConfig holds the router's own configuration, independent of its
// service dependencies.
type RouterConfig struct {
	Environment      string
	AllowedOrigins   []string
	MaxTaskBodyBytes int64
}

const defaultMaxTaskBodyBytes int64 = 1 << 20 // 1 MiB
