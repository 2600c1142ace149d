package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupOTelTest wires the provider to local SDK providers
func setupOTelTest(t *testing.T) (*OTelProvider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	provider, err := NewOTel(WithTracerProvider(tp), WithMeterProvider(mp))
	if err != nil {
		t.Fatalf("failed to create OTel provider: %v", err)
	}

	t.Cleanup(func() {
		ctx := context.Background()
		_ = provider.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	})

	return provider, reader, recorder
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumInt64(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()

	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", data)
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewOTel(t *testing.T) {
	provider, _, _ := setupOTelTest(t)

	if provider.tracer == nil {
		t.Error("expected non-nil tracer")
	}
	if provider.meter == nil {
		t.Error("expected non-nil meter")
	}
	if provider.calls == nil || provider.decisions == nil || provider.eventsDispatched == nil {
		t.Error("expected counters to be initialized")
	}
}

func TestNewOTel_GlobalProviders(t *testing.T) {
	provider, err := NewOTel()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// global no-op providers must be usable
	provider.RecordCall(context.Background(), "setUser", "ok", time.Millisecond)
}

func TestOTelProvider_RecordCall(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordCall(ctx, "isFeatureEnabled", "ok", 2*time.Millisecond)
	provider.RecordCall(ctx, "isFeatureEnabled", "user", time.Millisecond)

	metrics := collect(t, reader)

	if got := sumInt64(t, metrics["flagbridge.calls"]); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if _, ok := metrics["flagbridge.call.duration"].(metricdata.Histogram[float64]); !ok {
		t.Errorf("expected call duration histogram, got %T", metrics["flagbridge.call.duration"])
	}
}

func TestOTelProvider_RecordDecisionAndEvents(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordDecision(ctx, "checkout_v2", true)
	provider.RecordEventsDispatched(ctx, 5, true)
	provider.RecordEventsDispatched(ctx, 2, false)

	metrics := collect(t, reader)

	if got := sumInt64(t, metrics["flagbridge.decisions"]); got != 1 {
		t.Errorf("decisions = %d, want 1", got)
	}
	if got := sumInt64(t, metrics["flagbridge.events.dispatched"]); got != 7 {
		t.Errorf("events = %d, want 7", got)
	}
}

func TestOTelProvider_RecordRefresh(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordRefresh(ctx, true, 10*time.Millisecond, "42")
	provider.RecordRefresh(ctx, false, 5*time.Millisecond, "")

	metrics := collect(t, reader)

	if got := sumInt64(t, metrics["flagbridge.refresh.success"]); got != 1 {
		t.Errorf("refresh success = %d, want 1", got)
	}
	if got := sumInt64(t, metrics["flagbridge.refresh.failure"]); got != 1 {
		t.Errorf("refresh failure = %d, want 1", got)
	}
}

func TestOTelProvider_CircuitState(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)

	provider.RecordCircuitState(context.Background(), "open")

	gauge, ok := collect(t, reader)["flagbridge.circuit.state"].(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("expected circuit gauge")
	}
	if len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 1 {
		t.Errorf("unexpected gauge data points: %+v", gauge.DataPoints)
	}
}

func TestCircuitStateValue(t *testing.T) {
	tests := []struct {
		state    string
		expected int64
	}{
		{"closed", 0},
		{"open", 1},
		{"half-open", 2},
		{"unknown", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := circuitStateValue(tt.state); got != tt.expected {
				t.Errorf("circuitStateValue(%q) = %d, want %d", tt.state, got, tt.expected)
			}
		})
	}
}

func TestOTelProvider_Spans(t *testing.T) {
	provider, _, recorder := setupOTelTest(t)

	ctx := context.Background()
	newCtx, span := provider.StartSpan(ctx, "flagbridge.call",
		WithAttributes(String("method", "setUser"), Int("args", 2), Bool("async", false)))

	if newCtx == ctx {
		t.Error("expected new context")
	}

	span.SetAttributes(Duration("elapsed", time.Second))
	span.AddEvent("decided", String("flag.key", "f"))
	span.RecordError(errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Name() != "flagbridge.call" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if len(ended[0].Events()) != 2 {
		t.Errorf("expected decided event and error event, got %d", len(ended[0].Events()))
	}
}

func TestConvertAttribute(t *testing.T) {
	tests := []struct {
		name string
		attr Attribute
	}{
		{"string", String("key", "value")},
		{"int", Int("key", 42)},
		{"bool", Bool("key", true)},
		{"duration", Duration("key", time.Second)},
		{"float64", Attribute{Key: "key", Value: 3.14}},
		{"unknown", Attribute{Key: "key", Value: struct{}{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := convertAttribute(tt.attr)
			if string(result.Key) != tt.attr.Key {
				t.Errorf("key mismatch: got %s, want %s", result.Key, tt.attr.Key)
			}
		})
	}
}

func TestNoOpProvider(t *testing.T) {
	var p Provider = NewNoOp()
	ctx := context.Background()

	newCtx, span := p.StartSpan(ctx, "x")
	if newCtx != ctx {
		t.Error("no-op span must not change the context")
	}
	span.SetAttributes(String("k", "v"))
	span.AddEvent("e")
	span.RecordError(errors.New("boom"))
	span.End()

	p.RecordCall(ctx, "m", "ok", time.Millisecond)
	p.RecordDecision(ctx, "f", true)
	p.RecordRefresh(ctx, true, time.Millisecond, "1")
	p.RecordEventsDispatched(ctx, 1, true)
	p.RecordCircuitState(ctx, "open")

	if err := p.Shutdown(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
