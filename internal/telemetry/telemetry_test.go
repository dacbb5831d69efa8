package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestConfigure_InstallsSDKProvider(t *testing.T) {
	shutdown := Configure()
	defer func() { _ = shutdown(context.Background()) }()

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "Configure should install a real SDK TracerProvider")

	tracer := otel.Tracer("telemetry-test")
	_, span := tracer.Start(context.Background(), "test-span")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
}

func TestConfigure_ShutdownIsIdempotentlySafe(t *testing.T) {
	shutdown := Configure()
	require.NoError(t, shutdown(context.Background()))
	require.NoError(t, shutdown(context.Background()))
}
