package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, recorder
}

func TestNewTracerWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if tracer.provider != nil {
		t.Error("no provider should be installed without an endpoint")
	}
	if tracer.config.ServiceName != "gridiron" {
		t.Errorf("service name = %q", tracer.config.ServiceName)
	}
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("no-op spans should not carry a trace id")
	}
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := samplerFor(tt.rate).Description(); got != tt.want {
			t.Errorf("samplerFor(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
}

func TestWithSpanRecordsErrors(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	var seen string
	err := tracer.WithSpan(context.Background(), "tool.get_roster", func(ctx context.Context) error {
		seen = TraceID(ctx)
		return errors.New("sleeper unavailable")
	})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if seen == "" {
		t.Error("expected a trace id inside the span")
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "tool.get_roster" || spans[0].Status().Code != codes.Error {
		t.Errorf("span = %s status %v", spans[0].Name(), spans[0].Status())
	}
}

func TestStartAttributes(t *testing.T) {
	tracer, recorder := newRecordingTracer(t)

	_, span := tracer.Start(context.Background(), "turn", attribute.String("thread.id", "t-1"))
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("nil error should not fail the span")
	}
	var found bool
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "thread.id" && kv.Value.AsString() == "t-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("attributes = %v", spans[0].Attributes())
	}
}
