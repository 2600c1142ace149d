package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator defines the interface for feature decisions
type Evaluator interface {
	// Decide evaluates a feature flag for a user
	Decide(ctx context.Context, project *domain.Project, featureKey string, evalCtx domain.EvaluationContext) (*domain.EvaluationResult, error)

	// Variation buckets a user into an experiment by key
	Variation(ctx context.Context, project *domain.Project, experimentKey string, evalCtx domain.EvaluationContext) (*domain.EvaluationResult, error)
}

// LocalEvaluator implements decisions against a parsed project
type LocalEvaluator struct {
	mu           sync.RWMutex
	programCache map[string]*vm.Program
}

// New creates a new local evaluator
func New() *LocalEvaluator {
	return &LocalEvaluator{
		programCache: make(map[string]*vm.Program),
	}
}

// Decide evaluates a feature: feature tests first, then rollout rules
func (e *LocalEvaluator) Decide(ctx context.Context, project *domain.Project, featureKey string, evalCtx domain.EvaluationContext) (*domain.EvaluationResult, error) {
	feature, ok := project.Features[featureKey]
	if !ok {
		return nil, domain.NewNotFoundError("feature", featureKey)
	}

	result := &domain.EvaluationResult{FlagKey: featureKey}

	for _, expID := range feature.ExperimentIDs {
		exp, ok := project.Experiments[expID]
		if !ok {
			continue
		}

		variation, err := e.assign(project, &exp, evalCtx, result)
		if err != nil {
			return nil, domain.NewEvaluationError(featureKey, "feature test evaluation failed", err)
		}
		if variation == nil {
			continue
		}

		e.fill(result, feature, &exp, variation, domain.SourceFeatureTest)
		return result, nil
	}

	if feature.RolloutID != "" {
		rollout := project.Rollouts[feature.RolloutID]
		exp, variation, err := e.rollout(project, rollout, evalCtx, result)
		if err != nil {
			return nil, domain.NewEvaluationError(featureKey, "rollout evaluation failed", err)
		}
		if variation != nil {
			e.fill(result, feature, exp, variation, domain.SourceRollout)
			return result, nil
		}
	}

	result.Reasons = append(result.Reasons, fmt.Sprintf("user %q did not qualify for any rule of %q", evalCtx.UserID, featureKey))
	vars, err := e.variables(feature, nil)
	if err != nil {
		return nil, domain.NewEvaluationError(featureKey, "variable parsing failed", err)
	}
	result.Variables = vars
	return result, nil
}

// rollout walks targeted rules in order; a rule whose audience matches but whose traffic
// misses falls through to the everyone-else rule.
func (e *LocalEvaluator) rollout(project *domain.Project, rollout domain.Rollout, evalCtx domain.EvaluationContext, result *domain.EvaluationResult) (*domain.Experiment, *domain.Variation, error) {
	rules := rollout.Rules
	if len(rules) == 0 {
		return nil, nil, nil
	}

	last := len(rules) - 1
	for i := 0; i < last; i++ {
		rule := rules[i]
		matched, err := e.audienceMatch(project, &rule, evalCtx)
		if err != nil {
			return nil, nil, err
		}
		if !matched {
			result.Reasons = append(result.Reasons, fmt.Sprintf("audiences for rule %q not met", rule.Key))
			continue
		}

		if variation := bucketInto(&rule, evalCtx); variation != nil {
			return &rules[i], variation, nil
		}
		result.Reasons = append(result.Reasons, fmt.Sprintf("user not bucketed into rule %q", rule.Key))
		break
	}

	everyone := rules[last]
	matched, err := e.audienceMatch(project, &everyone, evalCtx)
	if err != nil {
		return nil, nil, err
	}
	if !matched {
		result.Reasons = append(result.Reasons, fmt.Sprintf("audiences for rule %q not met", everyone.Key))
		return nil, nil, nil
	}

	variation := bucketInto(&everyone, evalCtx)
	if variation == nil {
		result.Reasons = append(result.Reasons, fmt.Sprintf("user not bucketed into rule %q", everyone.Key))
		return nil, nil, nil
	}
	return &rules[last], variation, nil
}

// Variation buckets a user into an experiment by key
func (e *LocalEvaluator) Variation(ctx context.Context, project *domain.Project, experimentKey string, evalCtx domain.EvaluationContext) (*domain.EvaluationResult, error) {
	exp, ok := project.ExperimentByKey(experimentKey)
	if !ok {
		return nil, domain.NewNotFoundError("experiment", experimentKey)
	}

	result := &domain.EvaluationResult{
		FlagKey:      experimentKey,
		ExperimentID: exp.ID,
		RuleKey:      exp.Key,
	}

	variation, err := e.assign(project, exp, evalCtx, result)
	if err != nil {
		return nil, domain.NewEvaluationError(experimentKey, "experiment evaluation failed", err)
	}
	if variation == nil {
		return result, nil
	}

	result.Enabled = variation.FeatureEnabled
	result.VariationID = variation.ID
	result.VariationKey = variation.Key
	result.Source = domain.SourceFeatureTest
	return result, nil
}

// assign checks status and audiences, then buckets the user into exp
func (e *LocalEvaluator) assign(project *domain.Project, exp *domain.Experiment, evalCtx domain.EvaluationContext, result *domain.EvaluationResult) (*domain.Variation, error) {
	if !exp.IsRunning() {
		result.Reasons = append(result.Reasons, fmt.Sprintf("experiment %q is not running", exp.Key))
		return nil, nil
	}

	matched, err := e.audienceMatch(project, exp, evalCtx)
	if err != nil {
		return nil, err
	}
	if !matched {
		result.Reasons = append(result.Reasons, fmt.Sprintf("audiences for experiment %q not met", exp.Key))
		return nil, nil
	}

	if !inGroupSlot(project, exp, evalCtx) {
		result.Reasons = append(result.Reasons, fmt.Sprintf("user not bucketed into experiment %q of group %q", exp.Key, exp.GroupID))
		return nil, nil
	}

	variation := bucketInto(exp, evalCtx)
	if variation == nil {
		result.Reasons = append(result.Reasons, fmt.Sprintf("user not bucketed into experiment %q", exp.Key))
	}
	return variation, nil
}

// fill records the chosen variation on the result
func (e *LocalEvaluator) fill(result *domain.EvaluationResult, feature domain.Feature, exp *domain.Experiment, variation *domain.Variation, source domain.DecisionSource) {
	result.Enabled = variation.FeatureEnabled
	result.ExperimentID = exp.ID
	result.RuleKey = exp.Key
	result.VariationID = variation.ID
	result.VariationKey = variation.Key
	result.Source = source
	result.Reasons = append(result.Reasons, fmt.Sprintf("user bucketed into variation %q of %q", variation.Key, exp.Key))

	overrides := variation
	if !variation.FeatureEnabled {
		overrides = nil
	}

	// validated datafiles always parse; fall back to raw strings otherwise
	vars, err := e.variables(feature, overrides)
	if err != nil {
		result.Reasons = append(result.Reasons, err.Error())
	}
	result.Variables = vars
}

// variables returns the feature's defaults overridden by the variation's values
func (e *LocalEvaluator) variables(feature domain.Feature, variation *domain.Variation) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(feature.Variables))
	var firstErr error

	for _, v := range feature.Variables {
		raw := v.DefaultValue
		if variation != nil {
			if override, ok := variation.Variables[v.Key]; ok {
				raw = override
			}
		}

		value, err := v.ParseValue(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("variable %s: %w", v.Key, err)
			}
			value = raw
		}
		out[v.Key] = value
	}

	return out, firstErr
}

// evaluateCondition evaluates a single condition
func (e *LocalEvaluator) evaluateCondition(cond domain.Condition, evalCtx domain.EvaluationContext) (bool, error) {
	value, exists := evalCtx.GetAttribute(cond.Attribute)

	if cond.Operator == domain.OperatorEXISTS {
		return exists && value != nil, nil
	}

	if !exists {
		return false, nil // Missing attribute = no match
	}

	switch cond.Operator {
	case domain.OperatorEQ:
		return e.evaluateEquals(value, cond.Value), nil

	case domain.OperatorNEQ:
		return !e.evaluateEquals(value, cond.Value), nil

	case domain.OperatorIN:
		return e.evaluateIn(value, cond.Value), nil

	case domain.OperatorNOTIN:
		return !e.evaluateIn(value, cond.Value), nil

	case domain.OperatorCONTAINS:
		return e.evaluateContains(value, cond.Value), nil

	case domain.OperatorMATCHES:
		return e.evaluateMatches(value, cond.Value)

	case domain.OperatorLT:
		return e.evaluateCompare(value, cond.Value, func(c int) bool { return c < 0 }), nil

	case domain.OperatorLTE:
		return e.evaluateCompare(value, cond.Value, func(c int) bool { return c <= 0 }), nil

	case domain.OperatorGT:
		return e.evaluateCompare(value, cond.Value, func(c int) bool { return c > 0 }), nil

	case domain.OperatorGTE:
		return e.evaluateCompare(value, cond.Value, func(c int) bool { return c >= 0 }), nil

	default:
		return false, fmt.Errorf("unsupported operator: %s", cond.Operator)
	}
}

// evaluateEquals checks equality, numerically when both sides are numbers
func (e *LocalEvaluator) evaluateEquals(a, b interface{}) bool {
	if af, ok := toFloat64(a); ok {
		if bf, ok := toFloat64(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// evaluateIn checks if value is in list
func (e *LocalEvaluator) evaluateIn(value interface{}, list interface{}) bool {
	for _, item := range toSlice(list) {
		if e.evaluateEquals(value, item) {
			return true
		}
	}
	return false
}

// evaluateContains checks substring containment for strings and membership for lists
func (e *LocalEvaluator) evaluateContains(value interface{}, needle interface{}) bool {
	if s, ok := value.(string); ok {
		return strings.Contains(s, fmt.Sprintf("%v", needle))
	}

	for _, item := range toSlice(value) {
		if e.evaluateEquals(item, needle) {
			return true
		}
	}
	return false
}

// evaluateMatches checks regex match
func (e *LocalEvaluator) evaluateMatches(value interface{}, pattern interface{}) (bool, error) {
	program, err := e.matchProgram(fmt.Sprintf("%v", pattern))
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, map[string]interface{}{"value": fmt.Sprintf("%v", value)})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate regex: %w", err)
	}

	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("regex evaluation returned non-boolean: %T", result)
	}

	return matched, nil
}

// matchProgram compiles and caches the expression for a pattern
func (e *LocalEvaluator) matchProgram(pattern string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programCache[pattern]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(
		"value matches "+strconv.Quote(pattern),
		expr.Env(map[string]interface{}{"value": ""}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex expression: %w", err)
	}

	e.mu.Lock()
	e.programCache[pattern] = program
	e.mu.Unlock()

	return program, nil
}

// evaluateCompare performs numeric comparison
func (e *LocalEvaluator) evaluateCompare(a, b interface{}, accept func(int) bool) bool {
	aFloat, aOk := toFloat64(a)
	bFloat, bOk := toFloat64(b)

	if !aOk || !bOk {
		return false
	}

	switch {
	case aFloat < bFloat:
		return accept(-1)
	case aFloat > bFloat:
		return accept(1)
	default:
		return accept(0)
	}
}

// toFloat64 converts various numeric types to float64
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint8:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toSlice normalizes list values decoded from JSON or CBOR
func toSlice(v interface{}) []interface{} {
	switch list := v.(type) {
	case []interface{}:
		return list
	case []string:
		out := make([]interface{}, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}
