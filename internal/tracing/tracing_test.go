package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("daedalus")

	assert.Equal(t, "daedalus", config.ServiceName)
	assert.Equal(t, "127.0.0.1:4318", config.OTLPEndpoint)
	assert.Equal(t, 1.0, config.SampleRatio)
}

func TestSetupRegistersTracerProvider(t *testing.T) {
	// The OTLP HTTP exporter connects lazily; setup succeeds without a
	// collector listening.
	shutdown, err := Setup(context.Background(), DefaultConfig("daedalus-test"), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	tracer := otel.Tracer("daedalus/test")
	_, span := tracer.Start(context.Background(), "test.span")
	assert.True(t, span.SpanContext().IsValid(), "sampler at 1.0 records the span")
	span.End()

	// Shutdown flushes to a collector that is not there; the error is
	// expected and tolerated.
	Shutdown(shutdown, zap.NewNop())
}
