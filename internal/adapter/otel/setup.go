// Package otel provides OpenTelemetry instrumentation for crmbridge.
// Spans and metrics are recorded against the global providers; exporter
// setup is left to the deployment environment.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a shutdown function for the trace provider. With no
// exporter configured the global no-op provider stays in place and shutdown
// is a no-op.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel tracing initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}
