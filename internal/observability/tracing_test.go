package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pitabwire/stagegate/internal/config"
)

func TestInitTracing_disabledReturnsNoopShutdown(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false}, "stagegate", "test")
	if err != nil {
		t.Fatalf("InitTracing error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error: %v", err)
	}
}

func TestInitTracing_unsupportedExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:  true,
		Exporter: "jaeger-thrift",
	}, "stagegate", "test")
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
	if !strings.Contains(err.Error(), "jaeger-thrift") {
		t.Errorf("error = %v", err)
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"default rate", 0},
		{"partial rate", 0.5},
		{"full rate", 1},
		{"clamped rate", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSampler(config.TracingConfig{SamplingRate: tt.rate})
			if s == nil {
				t.Fatal("sampler is nil")
			}
			if !strings.Contains(s.Description(), "ParentBased") {
				t.Errorf("Description = %q, want parent-based sampling", s.Description())
			}
		})
	}
}

func TestTraceAndSpanIDFromContext(t *testing.T) {
	// No active span: empty ids.
	if id := TraceIDFromContext(context.Background()); id != "" {
		t.Errorf("TraceIDFromContext = %q, want empty", id)
	}
	if id := SpanIDFromContext(context.Background()); id != "" {
		t.Errorf("SpanIDFromContext = %q, want empty", id)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer(tracerName).Start(context.Background(), "test")
	defer span.End()

	if id := TraceIDFromContext(ctx); id == "" {
		t.Error("TraceIDFromContext should return the active trace id")
	}
	if id := SpanIDFromContext(ctx); id == "" {
		t.Error("SpanIDFromContext should return the active span id")
	}
}

func TestEndSpanWithError(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer(tracerName).Start(context.Background(), "test")
	// Must not panic either way.
	EndSpanWithError(span, nil)

	_, span = tp.Tracer(tracerName).Start(context.Background(), "test")
	EndSpanWithError(span, context.DeadlineExceeded)
}

func TestTracingMiddleware_propagatesContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	var gotTraceID string
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items", nil))

	if gotTraceID == "" {
		t.Error("handler should see an active trace id")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
