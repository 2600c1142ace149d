package domain

// DecisionSource identifies which kind of rule produced a decision
type DecisionSource string

const (
	SourceFeatureTest DecisionSource = "feature-test"
	SourceRollout     DecisionSource = "rollout"
	SourceNone        DecisionSource = ""
)

// EvaluationContext holds the user a decision is made for
type EvaluationContext struct {
	// UserID is the bucketing identity
	UserID string

	// Attributes are matched against audience conditions
	Attributes map[string]interface{}
}

// NewEvaluationContext creates a new evaluation context
func NewEvaluationContext(userID string) EvaluationContext {
	return EvaluationContext{
		UserID:     userID,
		Attributes: make(map[string]interface{}),
	}
}

// WithAttribute adds an attribute to the context
func (e EvaluationContext) WithAttribute(key string, value interface{}) EvaluationContext {
	attrs := make(map[string]interface{}, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	e.Attributes = attrs
	return e
}

// GetAttribute returns an attribute value
func (e EvaluationContext) GetAttribute(key string) (interface{}, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// EvaluationResult is the outcome of deciding one feature for one user
type EvaluationResult struct {
	FlagKey string
	Enabled bool

	ExperimentID string
	RuleKey      string
	VariationID  string
	VariationKey string
	Source       DecisionSource

	Variables map[string]interface{}
	Reasons   []string
}

// HasVariation reports whether the user was bucketed into a variation
func (r *EvaluationResult) HasVariation() bool {
	return r.VariationKey != ""
}
