package events

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// NewImpression builds the impression for a decision
func NewImpression(project *domain.Project, evalCtx domain.EvaluationContext, result *domain.EvaluationResult) Event {
	event := base(project, evalCtx, KindImpression)
	event.Impression = &Impression{
		FlagKey:      result.FlagKey,
		RuleKey:      result.RuleKey,
		RuleType:     string(result.Source),
		ExperimentID: result.ExperimentID,
		VariationID:  result.VariationID,
		VariationKey: result.VariationKey,
		Enabled:      result.Enabled,
	}
	return event
}

// NewConversion builds the conversion for a tracked event key
func NewConversion(project *domain.Project, evalCtx domain.EvaluationContext, eventKey string, tags map[string]interface{}) (Event, error) {
	def, ok := project.Events[eventKey]
	if !ok {
		return Event{}, domain.NewNotFoundError("event", eventKey)
	}

	conversion := &Conversion{
		EventID:       def.ID,
		EventKey:      def.Key,
		ExperimentIDs: def.ExperimentIDs,
		Tags:          tags,
	}

	if raw, ok := tags[RevenueTag]; ok {
		if revenue, ok := toInt64(raw); ok {
			conversion.Revenue = &revenue
		}
	}
	if raw, ok := tags[ValueTag]; ok {
		if value, ok := toFloat64(raw); ok {
			conversion.Value = &value
		}
	}

	event := base(project, evalCtx, KindConversion)
	event.Conversion = conversion
	return event, nil
}

func base(project *domain.Project, evalCtx domain.EvaluationContext, kind string) Event {
	return Event{
		UUID:       uuid.NewString(),
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		ProjectID:  project.ProjectID,
		AccountID:  project.AccountID,
		Revision:   project.Revision,
		UserID:     evalCtx.UserID,
		Attributes: evalCtx.Attributes,
	}
}

// toInt64 accepts integers and integral floats
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
