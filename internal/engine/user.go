package engine

import (
	"context"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
	"github.com/OrlandoBitencourt/flagbridge/internal/events"
	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// userContext decides and tracks for one user against its client
type userContext struct {
	client  *Client
	evalCtx domain.EvaluationContext
}

var _ sdk.UserContext = (*userContext)(nil)

func (u *userContext) UserID() string {
	return u.evalCtx.UserID
}

func (u *userContext) Attributes() map[string]any {
	out := make(map[string]any, len(u.evalCtx.Attributes))
	for k, v := range u.evalCtx.Attributes {
		out[k] = v
	}
	return out
}

// Decide evaluates one flag and queues its impression
func (u *userContext) Decide(ctx context.Context, flagKey string, opts ...sdk.DecideOption) (sdk.Decision, error) {
	ctx, span := u.client.telemetry.StartSpan(ctx, "engine.Decide",
		telemetry.WithAttributes(telemetry.String("flag.key", flagKey)),
	)
	defer span.End()

	project, err := u.client.project(ctx)
	if err != nil {
		span.RecordError(err)
		return sdk.Decision{}, err
	}

	decision, err := u.decide(ctx, project, flagKey, opts)
	if err != nil {
		span.RecordError(err)
		return sdk.Decision{}, err
	}

	span.SetAttributes(
		telemetry.Bool("flag.enabled", decision.Enabled),
		telemetry.String("variation.key", decision.VariationKey),
	)
	return decision, nil
}

// DecideAll evaluates every flag in the project
func (u *userContext) DecideAll(ctx context.Context, opts ...sdk.DecideOption) (map[string]sdk.Decision, error) {
	ctx, span := u.client.telemetry.StartSpan(ctx, "engine.DecideAll")
	defer span.End()

	project, err := u.client.project(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	enabledOnly := sdk.HasOption(opts, sdk.EnabledFlagsOnly)
	decisions := make(map[string]sdk.Decision, len(project.Features))

	for _, key := range project.FeatureKeys() {
		decision, err := u.decide(ctx, project, key, opts)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if enabledOnly && !decision.Enabled {
			continue
		}
		decisions[key] = decision
	}

	span.SetAttributes(
		telemetry.Int("flags.count", len(decisions)),
		telemetry.Duration("duration", time.Since(start)),
	)
	return decisions, nil
}

// TrackEvent queues a conversion for the user
func (u *userContext) TrackEvent(ctx context.Context, eventKey string, tags map[string]any) error {
	ctx, span := u.client.telemetry.StartSpan(ctx, "engine.TrackEvent",
		telemetry.WithAttributes(telemetry.String("event.key", eventKey)),
	)
	defer span.End()

	project, err := u.client.project(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	event, err := events.NewConversion(project, u.evalCtx, eventKey, tags)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if !u.client.processor.Process(event) {
		u.client.logger.Warn("conversion dropped", "event_key", eventKey, "user_id", u.evalCtx.UserID)
	}
	return nil
}

func (u *userContext) decide(ctx context.Context, project *domain.Project, flagKey string, opts []sdk.DecideOption) (sdk.Decision, error) {
	result, err := u.client.evaluator.Decide(ctx, project, flagKey, u.evalCtx)
	if domain.IsNotFound(err) {
		// unknown flags decide to a disabled error decision; the reason is always reported
		u.client.logger.Debug("decision for unknown flag", "flag_key", flagKey, "user_id", u.evalCtx.UserID)
		return sdk.Decision{
			FlagKey:   flagKey,
			Variables: map[string]any{},
			Reasons:   []string{err.Error()},
		}, nil
	}
	if err != nil {
		return sdk.Decision{}, err
	}

	u.client.telemetry.RecordDecision(ctx, flagKey, result.Enabled)

	if result.HasVariation() && !sdk.HasOption(opts, sdk.DisableDecisionEvent) {
		u.client.processor.Process(events.NewImpression(project, u.evalCtx, result))
	}

	decision := sdk.Decision{
		FlagKey:      flagKey,
		Enabled:      result.Enabled,
		VariationKey: result.VariationKey,
		RuleKey:      result.RuleKey,
	}
	if !sdk.HasOption(opts, sdk.ExcludeVariables) {
		decision.Variables = result.Variables
	}
	if sdk.HasOption(opts, sdk.IncludeReasons) {
		decision.Reasons = result.Reasons
	}

	u.client.logger.Debug("decision",
		"flag_key", flagKey,
		"user_id", u.evalCtx.UserID,
		"enabled", decision.Enabled,
		"variation", decision.VariationKey,
		"source", result.Source,
	)
	return decision, nil
}
