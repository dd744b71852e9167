package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// MeterScope is the instrumentation scope gale-broker's counters are
// recorded under.
const MeterScope = "gale-broker"

// Metrics holds the counters the execution engine increments as tasks move
// through their lifecycle (spec: task/group/branch counters).
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	TasksStarted    metric.Int64Counter
	TasksCompleted  metric.Int64Counter
	TasksFailed     metric.Int64Counter
	GroupsResumed   metric.Int64Counter
	BranchesClosed  metric.Int64Counter
}

// NewMetrics builds a Prometheus registry, bridges it into an otel
// MeterProvider via the otel/exporters/prometheus exporter, and
// instantiates the broker's counters against it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("observability: build prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(MeterScope)

	m := &Metrics{registry: registry, provider: provider}

	if m.TasksStarted, err = meter.Int64Counter("gale_broker_tasks_started_total", metric.WithDescription("tasks that entered the started state")); err != nil {
		return nil, err
	}
	if m.TasksCompleted, err = meter.Int64Counter("gale_broker_tasks_completed_total", metric.WithDescription("tasks that reached the completed state")); err != nil {
		return nil, err
	}
	if m.TasksFailed, err = meter.Int64Counter("gale_broker_tasks_failed_total", metric.WithDescription("tasks that reached the failed state")); err != nil {
		return nil, err
	}
	if m.GroupsResumed, err = meter.Int64Counter("gale_broker_groups_resumed_total", metric.WithDescription("subtask groups that won the at-most-once resumption gate")); err != nil {
		return nil, err
	}
	if m.BranchesClosed, err = meter.Int64Counter("gale_broker_branches_closed_total", metric.WithDescription("branches transitioned from active to completed")); err != nil {
		return nil, err
	}
	return m, nil
}

// Handler exposes the registry over HTTP for a Prometheus scrape target.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the underlying meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

var _ ports.Metrics = (*Metrics)(nil)

func (m *Metrics) IncTaskStarted(ctx context.Context)   { m.TasksStarted.Add(ctx, 1) }
func (m *Metrics) IncTaskCompleted(ctx context.Context) { m.TasksCompleted.Add(ctx, 1) }
func (m *Metrics) IncTaskFailed(ctx context.Context)    { m.TasksFailed.Add(ctx, 1) }
func (m *Metrics) IncGroupResumed(ctx context.Context)  { m.GroupsResumed.Add(ctx, 1) }
func (m *Metrics) IncBranchClosed(ctx context.Context)  { m.BranchesClosed.Add(ctx, 1) }
