package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/OrlandoBitencourt/flagbridge"

// OTelProvider implements Provider using OpenTelemetry
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	calls            metric.Int64Counter
	callDuration     metric.Float64Histogram
	decisions        metric.Int64Counter
	refreshDuration  metric.Float64Histogram
	refreshSuccess   metric.Int64Counter
	refreshFailure   metric.Int64Counter
	eventsDispatched metric.Int64Counter
	circuitState     metric.Int64ObservableGauge

	// Current circuit state for the gauge
	currentCircuitState atomic.Int64
}

// OTelOption configures the OpenTelemetry provider
type OTelOption func(*otelConfig)

type otelConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider uses tp instead of the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *otelConfig) { c.tracerProvider = tp }
}

// WithMeterProvider uses mp instead of the global meter provider
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(c *otelConfig) { c.meterProvider = mp }
}

// NewOTel creates a new OpenTelemetry provider
func NewOTel(opts ...OTelOption) (*OTelProvider, error) {
	cfg := &otelConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	provider := &OTelProvider{
		tracer: cfg.tracerProvider.Tracer(instrumentationName),
		meter:  cfg.meterProvider.Meter(instrumentationName),
	}

	if err := provider.initMetrics(); err != nil {
		return nil, err
	}

	return provider, nil
}

// initMetrics initializes all metrics
func (o *OTelProvider) initMetrics() error {
	var err error

	o.calls, err = o.meter.Int64Counter(
		"flagbridge.calls",
		metric.WithDescription("Number of channel calls by method and reply code"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	o.callDuration, err = o.meter.Float64Histogram(
		"flagbridge.call.duration",
		metric.WithDescription("Duration of channel calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.decisions, err = o.meter.Int64Counter(
		"flagbridge.decisions",
		metric.WithDescription("Number of feature decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return err
	}

	o.refreshDuration, err = o.meter.Float64Histogram(
		"flagbridge.refresh.duration",
		metric.WithDescription("Duration of datafile refresh operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.refreshSuccess, err = o.meter.Int64Counter(
		"flagbridge.refresh.success",
		metric.WithDescription("Number of successful datafile refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return err
	}

	o.refreshFailure, err = o.meter.Int64Counter(
		"flagbridge.refresh.failure",
		metric.WithDescription("Number of failed datafile refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return err
	}

	o.eventsDispatched, err = o.meter.Int64Counter(
		"flagbridge.events.dispatched",
		metric.WithDescription("Number of events sent to the event endpoint"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return err
	}

	o.circuitState, err = o.meter.Int64ObservableGauge(
		"flagbridge.circuit.state",
		metric.WithDescription("Datafile circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(o.currentCircuitState.Load())
			return nil
		}),
	)
	return err
}

// circuitStateValue converts a circuit state string to its gauge value
func circuitStateValue(state string) int64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// StartSpan creates a new trace span
func (o *OTelProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	config := &SpanConfig{}
	for _, opt := range opts {
		opt(config)
	}

	ctx, otelSpan := o.tracer.Start(ctx, name, trace.WithAttributes(convertAttributes(config.Attributes)...))

	return ctx, &OTelSpan{span: otelSpan}
}

// convertAttribute converts our Attribute to OTel attribute
func convertAttribute(attr Attribute) attribute.KeyValue {
	switch v := attr.Value.(type) {
	case string:
		return attribute.String(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case bool:
		return attribute.Bool(attr.Key, v)
	case float64:
		return attribute.Float64(attr.Key, v)
	default:
		return attribute.String(attr.Key, "")
	}
}

func convertAttributes(attrs []Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		out[i] = convertAttribute(attr)
	}
	return out
}

// RecordCall records one channel call and its reply code ("ok" on success)
func (o *OTelProvider) RecordCall(ctx context.Context, method, code string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("code", code),
	)
	o.calls.Add(ctx, 1, attrs)
	o.callDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordDecision records a feature decision
func (o *OTelProvider) RecordDecision(ctx context.Context, flagKey string, enabled bool) {
	o.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag.key", flagKey),
		attribute.Bool("enabled", enabled),
	))
}

// RecordRefresh records a datafile refresh
func (o *OTelProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, revision string) {
	o.refreshDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.Bool("success", success)))

	if success {
		o.refreshSuccess.Add(ctx, 1, metric.WithAttributes(
			attribute.String("datafile.revision", revision),
		))
	} else {
		o.refreshFailure.Add(ctx, 1)
	}
}

// RecordEventsDispatched records a dispatched batch
func (o *OTelProvider) RecordEventsDispatched(ctx context.Context, count int, success bool) {
	o.eventsDispatched.Add(ctx, int64(count), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordCircuitState records the circuit breaker state
func (o *OTelProvider) RecordCircuitState(ctx context.Context, state string) {
	o.currentCircuitState.Store(circuitStateValue(state))
}

// Shutdown is a no-op; SDK providers are owned and shut down by the caller
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	return nil
}

// OTelSpan wraps an OpenTelemetry span
type OTelSpan struct {
	span trace.Span
}

// End completes the span
func (s *OTelSpan) End() {
	s.span.End()
}

// SetAttributes sets attributes on the span
func (s *OTelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(convertAttributes(attrs)...)
}

// RecordError records an error on the span and marks it failed
func (s *OTelSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// AddEvent adds an event to the span
func (s *OTelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(convertAttributes(attrs)...))
}
