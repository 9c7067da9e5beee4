package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func initRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	require.NoError(t, InitOpenTelemetry("seqqueue-test", sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })
	return recorder
}

func TestStartSpan_RecordsTraceID(t *testing.T) {
	recorder := initRecorder(t)

	ctx, span := StartSpan(context.Background(), "test.span")
	span.End()

	assert.NotEmpty(t, GetTraceID(ctx))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "test.span", ended[0].Name())
	assert.Equal(t, TracerName, ended[0].InstrumentationScope().Name)
}

func TestStartSpan_KeepsExistingTraceID(t *testing.T) {
	initRecorder(t)

	ctx, span := StartSpan(WithTraceID(context.Background(), "upstream"), "test.span")
	span.End()

	assert.Equal(t, "upstream", GetTraceID(ctx))
}

func TestInitOpenTelemetry_OnlyFirstCallInstalls(t *testing.T) {
	first := initRecorder(t)
	second := tracetest.NewSpanRecorder()
	require.NoError(t, InitOpenTelemetry("other", sdktrace.WithSpanProcessor(second)))

	_, span := StartSpan(context.Background(), "test.span")
	span.End()

	assert.Len(t, first.Ended(), 1)
	assert.Empty(t, second.Ended())
}

func TestShutdownOpenTelemetry(t *testing.T) {
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))

	recorder := tracetest.NewSpanRecorder()
	require.NoError(t, InitOpenTelemetry("seqqueue-test", sdktrace.WithSpanProcessor(recorder)))
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))

	ctx, span := StartSpan(context.Background(), "after.shutdown")
	span.End()

	assert.False(t, span.SpanContext().IsValid())
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, recorder.Ended())

	again := initRecorder(t)
	_, span = StartSpan(context.Background(), "reinstalled")
	span.End()
	assert.Len(t, again.Ended(), 1)
}
