package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "crmbridge"

// StartCycleSpan starts a span for one prediction cycle run.
func StartCycleSpan(ctx context.Context, tenantID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "cycle",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
		),
	)
}

// StartInstallSpan starts a span for a schema installation pass.
func StartInstallSpan(ctx context.Context, tenantID string, definitions int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "schema.install",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("schema.definitions", definitions),
		),
	)
}
