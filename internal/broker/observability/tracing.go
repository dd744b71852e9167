// Package observability wires the broker's tracing and metrics stack: an
// otel trace provider exporting via OTLP/HTTP (no exporter when disabled),
// and a Prometheus-backed otel meter for the task/group/branch counters
// (spec: ambient observability). Adapted from the goclaw pack's otel
// bootstrap, the only place in the retrieved corpus that actually builds
// one of these providers end to end.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerScope is the instrumentation scope name gale-broker's spans are
// grouped under.
const TracerScope = "gale-broker"

// TracingConfig controls the trace exporter.
type TracingConfig struct {
	// Enabled turns tracing on. When false, InitTracing builds no provider
	// and leaves otel's global provider as it is.
	Enabled bool
	// OTLPEndpoint is host:port for the OTLP/HTTP collector (default
	// localhost:4318).
	OTLPEndpoint string
	ServiceName  string
	SampleRate   float64
}

// TracingProvider owns the trace provider's lifecycle.
type TracingProvider struct {
	tp       *sdktrace.TracerProvider
	Tracer   trace.Tracer
	shutdown func(context.Context) error
}

// InitTracing builds the global trace provider per cfg. Disabled
// configurations install nothing: the returned Tracer comes from otel's
// current global provider, which is otel's no-op default unless another
// provider was installed earlier.
func InitTracing(ctx context.Context, cfg TracingConfig) (*TracingProvider, error) {
	if !cfg.Enabled {
		return &TracingProvider{
			Tracer:   otel.Tracer(TracerScope),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "gale-broker"
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("observability: build otlp exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	otel.SetTracerProvider(tp)

	return &TracingProvider{
		tp:       tp,
		Tracer:   tp.Tracer(TracerScope),
		shutdown: tp.Shutdown,
	}, nil
}

// Shutdown flushes and stops the trace provider.
func (p *TracingProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
