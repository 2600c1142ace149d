package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/OrlandoBitencourt/flagbridge/internal/cache"
	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
	"github.com/OrlandoBitencourt/flagbridge/internal/evaluator"
	"github.com/OrlandoBitencourt/flagbridge/internal/events"
	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// ErrClosed is returned by operations on a closed client
var ErrClosed = errors.New("client is closed")

// Client is a started engine instance
type Client struct {
	sdkKey    string
	cache     *cache.Cache
	evaluator evaluator.Evaluator
	processor *events.Processor
	telemetry telemetry.Provider
	logger    *slog.Logger

	revision atomic.Value // string
	closed   atomic.Bool
}

var (
	_ sdk.Client        = (*Client)(nil)
	_ sdk.Refresher     = (*Client)(nil)
	_ sdk.StatsReporter = (*Client)(nil)
)

// CreateUserContext binds a user to the client
func (c *Client) CreateUserContext(userID string, attributes map[string]any) (sdk.UserContext, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	attrs := make(map[string]any, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}

	return &userContext{
		client: c,
		evalCtx: domain.EvaluationContext{
			UserID:     userID,
			Attributes: attrs,
		},
	}, nil
}

// GetVariation buckets a user into an experiment without sending an impression
func (c *Client) GetVariation(ctx context.Context, experimentKey, userID string, attributes map[string]any) (string, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "engine.GetVariation",
		telemetry.WithAttributes(telemetry.String("experiment.key", experimentKey)),
	)
	defer span.End()

	project, err := c.project(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	evalCtx := domain.EvaluationContext{UserID: userID, Attributes: attributes}
	result, err := c.evaluator.Variation(ctx, project, experimentKey, evalCtx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(telemetry.String("variation.key", result.VariationKey))
	return result.VariationKey, nil
}

// Refresh forces a datafile sync
func (c *Client) Refresh(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.cache.Sync(ctx)
}

// Stats reports datafile and event counters
func (c *Client) Stats() sdk.Stats {
	m := c.cache.GetMetrics()
	e := c.processor.Stats()

	return sdk.Stats{
		SDKKey:          c.sdkKey,
		Revision:        m.Revision,
		LastRefresh:     m.LastRefresh,
		Refreshes:       m.Refreshes,
		RefreshFailures: m.RefreshFailures,
		FromSnapshot:    m.FromSnapshot,
		CircuitState:    m.CircuitState,
		EventsQueued:    e.Queued,
		EventsSent:      e.Dispatched,
		EventsDropped:   e.Dropped,
		EventsFailed:    e.Failed,
	}
}

// Close flushes pending events and stops polling
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.processor.Close()
	if err := c.cache.Stop(); err != nil {
		return fmt.Errorf("failed to stop datafile manager: %w", err)
	}

	c.logger.Info("client closed")
	return nil
}

func (c *Client) project(ctx context.Context) (*domain.Project, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.cache.Project(ctx)
}

func (c *Client) onUpdate(project *domain.Project) {
	previous, _ := c.revision.Swap(project.Revision).(string)
	if previous != "" && previous != project.Revision {
		// impressions queued so far belong to the old revision
		if err := c.processor.Flush(context.Background()); err != nil {
			c.logger.Warn("failed to flush events on revision change", "error", err)
		}
	}
}
