package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracing_DisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_ExportsSampledSpans(t *testing.T) {
	// GIVEN tracing enabled with every trace sampled
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "lte-sim-test",
		SampleRatio: 1,
		Writer:      &buf,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{}) })

	// WHEN a span is ended and the provider shut down
	_, span := otel.Tracer("test").Start(context.Background(), "cell.Run")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown)

	// THEN the exporter wrote it out
	assert.Contains(t, buf.String(), "cell.Run")
	assert.Contains(t, buf.String(), "lte-sim-test")
}

func TestShutdownWithTimeout_NilShutdown(t *testing.T) {
	assert.NotPanics(t, func() { ShutdownWithTimeout(context.Background(), nil) })
}
