// Package observability provides OpenTelemetry tracing for fluxpipe
// pipelines: InitTracer sets up an OTLP/gRPC exporter, a batch processor,
// and a 10%-sampled TracerProvider, and per-operator-flush /
// per-inner-subscription spans mark the places a running pipeline
// actually does meaningful work worth tracing.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracer initializes the OpenTelemetry tracer for serviceName,
// exporting spans via OTLP/gRPC to endpoint.
func InitTracer(serviceName, endpoint string) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("0.1.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(0.1),
		)),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the global fluxpipe tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("fluxpipe")
}

// StreamAttributes describes one operator stage for span tagging.
func StreamAttributes(streamID, operator string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stream.id", streamID),
		attribute.String("stream.operator", operator),
	}
}

// StartFlushSpan starts a span around one operator's flush-loop pass
// (read upstream values, run the operator's Step on each, emit downstream
// until the output's desired size is met), the unit of work every
// internal/operator.Build-based operator performs per pull.
func StartFlushSpan(ctx context.Context, streamID, operator string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "flux.flush",
		trace.WithAttributes(StreamAttributes(streamID, operator)...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartInnerSubscriptionSpan starts a span around one flattening
// operator's inner-stream subscription (mergeMap/concatMap/switchMap/
// exhaustMap's per-outer-value projected stream).
func StartInnerSubscriptionSpan(ctx context.Context, streamID, operator string, index int) (context.Context, trace.Span) {
	attrs := append(StreamAttributes(streamID, operator), attribute.Int("stream.inner_index", index))
	return Tracer().Start(ctx, "flux.inner_subscribe",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// RecordFlushResult tags span with the outcome of one flush pass.
func RecordFlushResult(span trace.Span, emitted int, err error) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int("flux.emitted", emitted))
	if err != nil {
		span.RecordError(err)
	}
}
