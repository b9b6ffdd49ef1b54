package observability

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc flushes and stops tracing.
type ShutdownFunc func(context.Context) error

func noShutdown(context.Context) error { return nil }

// tracingEndpoint returns the configured OTLP endpoint, if any. Local batch
// runs usually have none, and exporting would only log dial errors.
func tracingEndpoint() string {
	return cmp.Or(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

// sampleRatio reads CALLSYNTH_TRACE_RATIO, defaulting to every trace.
func sampleRatio() float64 {
	r, err := strconv.ParseFloat(os.Getenv("CALLSYNTH_TRACE_RATIO"), 64)
	if err != nil || r < 0 || r > 1 {
		return 1
	}
	return r
}

// StartTracing installs a global TracerProvider that exports spans over
// OTLP gRPC. Without an OTLP endpoint in the environment it does nothing
// and returns a no-op shutdown.
func StartTracing(ctx context.Context, service, version string) (ShutdownFunc, error) {
	if tracingEndpoint() == "" {
		return noShutdown, nil
	}

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return noShutdown, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironmentName(cmp.Or(os.Getenv("CALLSYNTH_ENV"), "development")),
	))
	if err != nil {
		return noShutdown, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// DetachTrace returns base carrying the span context of src, so work that
// must outlive src (saving after an interrupt, background batches) stays
// in the same trace. A nil base means context.Background().
func DetachTrace(src, base context.Context) context.Context {
	if base == nil {
		base = context.Background()
	}
	sc := trace.SpanContextFromContext(src)
	if !sc.IsValid() {
		return base
	}
	return trace.ContextWithRemoteSpanContext(base, sc)
}
