package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTracer(ctx, "procplane-test", "localhost:4317")
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	if shutdown == nil {
		t.Fatal("InitTracer() returned nil shutdown func")
	}

	// The gRPC exporter connects lazily, so setup succeeds even when no
	// collector is listening. Spans can be created against the global
	// provider regardless.
	tracer := otel.Tracer("procplane-test")
	_, span := tracer.Start(ctx, "start-process")
	span.End()

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		// Export failures are expected without a collector.
		t.Logf("shutdown returned (no collector running): %v", err)
	}
}

func TestInitTracerSetsGlobalPropagator(t *testing.T) {
	ctx := context.Background()

	shutdown, err := InitTracer(ctx, "procplane-test", "localhost:4317")
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	fields := otel.GetTextMapPropagator().Fields()
	var hasTraceparent bool
	for _, f := range fields {
		if f == "traceparent" {
			hasTraceparent = true
		}
	}
	if !hasTraceparent {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}
