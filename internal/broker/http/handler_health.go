package http

import (
	"context"
	"net/http"
)

// HealthCheck is one named dependency probe (store ping, bus ping, ...).
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves the supplemented health/readiness endpoint (not
// named in spec.md; added because every teacher cmd/*-server exposes one,
// and the broker's store/bus connections are exactly what such an endpoint
// should probe).
type HealthHandler struct {
	checks []HealthCheck
}

// NewHealthHandler builds a HealthHandler over zero or more dependency checks.
func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HandleHealth reports 200 with per-dependency status, or 503 if any
// dependency check fails.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := true
	for _, check := range h.checks {
		if err := check.Ping(r.Context()); err != nil {
			status[check.Name] = err.Error()
			healthy = false
			continue
		}
		status[check.Name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": statusLabel(healthy), "checks": status})
}

func statusLabel(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "unavailable"
}
