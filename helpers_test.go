package s3trace

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return sr, tp.Tracer("s3trace-test")
}

func attributeMap(s sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		out[string(kv.Key)] = kv.Value.Emit()
	}

	return out
}

// setPropagator подменяет глобальный пропагатор. Тесты, которые его используют, не должны быть параллельными.
func setPropagator(p propagation.TextMapPropagator) func() {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(p)

	return func() { otel.SetTextMapPropagator(prev) }
}

func tracetestStub(names ...string) []sdktrace.ReadOnlySpan {
	stubs := make(tracetest.SpanStubs, 0, len(names))
	for _, name := range names {
		stubs = append(stubs, tracetest.SpanStub{Name: name})
	}

	return stubs.Snapshots()
}
