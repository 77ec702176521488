package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "acqbridge" {
		t.Errorf("expected service name 'acqbridge', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("expected tracing disabled by default")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}

	var zero *TracerProvider
	if err := zero.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider shutdown: %v", err)
	}
}

func TestSessionSpanRecordsError(t *testing.T) {
	rec := recordSpans(t)

	ctx, span := TraceSessionOperation(context.Background(), "snap", "idle")
	AddSpanAttributes(ctx, RunIDKey.String("run_1"), FrameIDKey.Int64(7))
	RecordError(ctx, errors.New("trigger failed"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "session.snap" {
		t.Errorf("unexpected span name %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status().Code)
	}
	found := false
	for _, kv := range s.Attributes() {
		if kv.Key == RunIDKey && kv.Value.AsString() == "run_1" {
			found = true
		}
	}
	if !found {
		t.Error("expected run id attribute on span")
	}
}

func TestRuntimeCallIsChildSpan(t *testing.T) {
	rec := recordSpans(t)

	ctx, parent := TraceSessionOperation(context.Background(), "snap", "snapping")
	_, child := TraceRuntimeCall(ctx, "execute_trigger", 1)
	child.End()
	parent.End()

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "runtime.execute_trigger" {
		t.Errorf("unexpected span name %q", ended[0].Name())
	}
	if ended[0].Parent().SpanID() != ended[1].SpanContext().SpanID() {
		t.Error("runtime call should be a child of the session span")
	}
	if ended[0].SpanKind() != trace.SpanKindClient {
		t.Errorf("expected client span, got %v", ended[0].SpanKind())
	}
}

func TestExtractContinuesRemoteTrace(t *testing.T) {
	rec := recordSpans(t)
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	header := http.Header{}
	header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	ctx := Extract(context.Background(), header)
	_, span := TraceHTTPRequest(ctx, "POST", "/api/v1/camera/snap")
	span.End()

	s := rec.Ended()[0]
	if s.Name() != "POST /api/v1/camera/snap" {
		t.Errorf("unexpected span name %q", s.Name())
	}
	if got := s.SpanContext().TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("expected remote trace id, got %s", got)
	}
}
