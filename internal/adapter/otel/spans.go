package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentd"

// StartTaskSpan starts a span for one task processed by an agent.
func StartTaskSpan(ctx context.Context, agentID, taskID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("task.id", taskID),
		),
	)
}

// StartPhaseSpan starts a span for a pipeline phase within a task attempt.
func StartPhaseSpan(ctx context.Context, phase string, attempt int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, phase,
		trace.WithAttributes(
			attribute.String("pipeline.phase", phase),
			attribute.Int("pipeline.attempt", attempt),
		),
	)
}

// StartRequestSpan starts a span for a router request/response exchange.
func StartRequestSpan(ctx context.Context, messageID, recipient string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "router.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("message.recipient", recipient),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
