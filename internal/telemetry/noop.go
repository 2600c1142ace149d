package telemetry

import (
	"context"
	"time"
)

// NoOpProvider is a telemetry provider that does nothing
type NoOpProvider struct{}

// NewNoOp creates a new no-op telemetry provider
func NewNoOp() *NoOpProvider {
	return &NoOpProvider{}
}

// StartSpan creates a no-op span
func (n *NoOpProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, NoOpSpan{}
}

func (n *NoOpProvider) RecordCall(ctx context.Context, method, code string, duration time.Duration) {}

func (n *NoOpProvider) RecordDecision(ctx context.Context, flagKey string, enabled bool) {}

func (n *NoOpProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, revision string) {
}

func (n *NoOpProvider) RecordEventsDispatched(ctx context.Context, count int, success bool) {}

func (n *NoOpProvider) RecordCircuitState(ctx context.Context, state string) {}

func (n *NoOpProvider) Shutdown(ctx context.Context) error {
	return nil
}

// NoOpSpan is a span that does nothing
type NoOpSpan struct{}

func (NoOpSpan) End()                                     {}
func (NoOpSpan) SetAttributes(attrs ...Attribute)         {}
func (NoOpSpan) RecordError(err error)                    {}
func (NoOpSpan) AddEvent(name string, attrs ...Attribute) {}
