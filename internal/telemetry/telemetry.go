// Package telemetry installs the process-wide OpenTelemetry
// TracerProvider that internal/engine's spans are recorded against,
// grounded on the teacher's internal/cmn/telemetry tracer (NewTracer /
// Shutdown) pattern of building a real SDK provider rather than
// leaving the global no-op provider in place.
//
// No exporter is attached: wiring one (OTLP/gRPC or OTLP/HTTP, as the
// teacher's tracer picks between by endpoint shape) would pull in the
// otlptrace client stack, which is not part of this module's
// retrieved dependency set. Spans are still created, sampled, and
// ended against a real go.opentelemetry.io/otel/sdk/trace provider —
// only the "ship them somewhere" leg is left for an operator to wire
// in by registering their own span processor on the returned provider
// before Configure's caller starts the engine.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Configure installs a real SDK TracerProvider as the global provider
// and returns its Shutdown func. Safe to call more than once; each
// call replaces the previously-installed provider.
func Configure() func(context.Context) error {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}
