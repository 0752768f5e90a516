// Package tracing wires the resize and migration path of hashtable.Table
// into OpenTelemetry, the same Jaeger exporter / resource / tracer-provider
// wiring cmd/server used for request-path tracing, repointed at the
// table's own internal operations so a resize storm shows up as spans
// instead of only as a capacity counter.
package tracing

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "scc"
	serviceVersion = "0.1.0"
)

var tracerProvider *tracesdk.TracerProvider

// InitTracing initializes OpenTelemetry tracing with a Jaeger exporter.
// jaegerEndpoint defaults to the local collector endpoint if empty.
func InitTracing(jaegerEndpoint string) error {
	if jaegerEndpoint == "" {
		jaegerEndpoint = "http://localhost:14268/api/traces"
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return fmt.Errorf("create jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("build resource: %w", err)
	}

	tracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	log.Printf("tracing initialized: %s", jaegerEndpoint)
	return nil
}

// Shutdown flushes and stops the tracer provider, if initialized.
func Shutdown(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}

// GetTracer returns a tracer scoped to a table component name, e.g.
// "hashtable.resize" or "hashtable.migrate".
func GetTracer(component string) trace.Tracer {
	return otel.Tracer(fmt.Sprintf("%s/%s", serviceName, component))
}

// StartSpan starts a span with the given operation name and attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, operationName)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordResize emits a span covering one resize cycle: the directory's
// cell count before and after, and whether it grew or shrank.
func RecordResize(ctx context.Context, beforeCells, afterCells int) {
	if tracerProvider == nil {
		return
	}
	tracer := GetTracer("hashtable.resize")
	kind := "grow"
	if afterCells < beforeCells {
		kind = "shrink"
	}
	_, span := tracer.Start(ctx, "resize")
	span.SetAttributes(
		attribute.Int("cells.before", beforeCells),
		attribute.Int("cells.after", afterCells),
		attribute.String("kind", kind),
	)
	span.End()
}

// RecordMigration emits a span covering a bounded chunk of predecessor
// cells drained by PartialRehash.
func RecordMigration(ctx context.Context, cellsDrained, cellsRemaining int) {
	if tracerProvider == nil {
		return
	}
	tracer := GetTracer("hashtable.migrate")
	_, span := tracer.Start(ctx, "partial_rehash")
	span.SetAttributes(
		attribute.Int("cells.drained", cellsDrained),
		attribute.Int("cells.remaining", cellsRemaining),
	)
	span.End()
}

// RecordError records an error on the span held in ctx, if any.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
	}
}
