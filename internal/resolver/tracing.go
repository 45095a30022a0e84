package resolver

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"queryengine/internal/planner"
)

const tracerName = "queryengine/resolver"

func startRowSpan(ctx context.Context, name string, plan *planner.Plan, rows int) trace.Span {
	_, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("queryengine.collection", plan.Collection),
		attribute.Int("queryengine.rows", rows),
	))
	return span
}

// endRowSpan closes span with an outcome attribute. Mismatched rows are an
// answer, not a failure, so only other errors set the span status.
func endRowSpan(span trace.Span, err error) {
	var mismatch *MismatchError
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("queryengine.resolver.outcome", "ok"))
	case errors.As(err, &mismatch):
		span.SetAttributes(
			attribute.String("queryengine.resolver.outcome", "mismatch"),
			attribute.Int("queryengine.mismatches", len(mismatch.Mismatches)),
		)
	default:
		span.SetAttributes(attribute.String("queryengine.resolver.outcome", "error"))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
