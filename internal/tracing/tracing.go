// Package tracing provides OpenTelemetry setup and span helpers for the
// poll -> claim -> execute -> report path, with a no-op tracer when no
// collector endpoint is configured. Only Init is called (by runnerd); the
// poller opens no spans through these helpers. Span/attribute naming follows the teacher's
// react/tracing.go convention (a package-scoped tracer name plus a small
// set of typed attribute keys), generalized from the agent-loop domain to
// this module's task-queue domain.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerScope = "runloop"

	SpanTaskAttempt     = "runloop.task.attempt"
	SpanClaim           = "runloop.claim"
	SpanExecutorDispatch = "runloop.executor.dispatch"

	AttrNamespace = "runloop.namespace"
	AttrTaskID    = "runloop.task_id"
	AttrRunnerID  = "runloop.runner_id"
	AttrStatus    = "runloop.status"
)

// Init configures the global tracer provider against an OTLP-HTTP
// collector endpoint. An empty endpoint leaves the global no-op tracer in
// place, so callers can unconditionally call tracing functions without a
// feature flag.
func Init(ctx context.Context, endpoint string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// StartTaskAttemptSpan opens the top-level span for one claim+execute
// attempt.
func StartTaskAttemptSpan(ctx context.Context, namespace, taskID, runnerID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerScope).Start(ctx, SpanTaskAttempt, trace.WithAttributes(
		attribute.String(AttrNamespace, namespace),
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrRunnerID, runnerID),
	))
}

// StartChildSpan opens a child span (claim or executor dispatch) under the
// current task-attempt span.
func StartChildSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerScope).Start(ctx, name)
}

// End records the final status on span and closes it.
func End(span trace.Span, status string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrStatus, status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
