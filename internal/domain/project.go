package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MaxTrafficValue is the size of the bucket space traffic ranges are expressed in.
const MaxTrafficValue = 10000

// Project is a parsed datafile: every feature, experiment and rule a client can decide on.
type Project struct {
	ProjectID string
	AccountID string
	Revision  string
	Version   string

	Attributes  map[string]Attribute  // by key
	Audiences   map[string]Audience   // by id
	Events      map[string]Event      // by key
	Features    map[string]Feature    // by key
	Experiments map[string]Experiment // by id
	Rollouts    map[string]Rollout    // by id
	Groups      map[string]Group      // by id

	// FeatureOrder keeps datafile order so DecideAll is stable.
	FeatureOrder []string

	// Datafile is the raw payload the project was parsed from.
	Datafile []byte
}

// Attribute is a known user attribute
type Attribute struct {
	ID  string
	Key string
}

// Audience is a named group of users.
// When Tree is set it decides membership; otherwise all Conditions must match.
type Audience struct {
	ID         string
	Name       string
	Conditions []Condition
	Tree       *ConditionTree
}

// Condition is a single audience constraint (e.g., plan == "pro")
type Condition struct {
	Attribute string
	Operator  Operator
	Value     interface{}
}

// Event is a trackable conversion event
type Event struct {
	ID            string
	Key           string
	ExperimentIDs []string
}

// Feature is a flag with typed variables, feature tests and a rollout
type Feature struct {
	ID            string
	Key           string
	ExperimentIDs []string
	RolloutID     string
	Variables     []Variable
}

// Variable is a typed feature variable with its default value
type Variable struct {
	ID           string
	Key          string
	Type         VariableType
	DefaultValue string
}

// Experiment is an A/B test or a rollout rule
type Experiment struct {
	ID                string
	Key               string
	LayerID           string
	Status            ExperimentStatus
	AudienceIDs       []string
	TrafficAllocation []TrafficRange
	Variations        []Variation

	// AudienceConditions combines audience ids with and/or/not; it replaces AudienceIDs when set
	AudienceConditions *ConditionTree

	// GroupID is set for experiments in a mutually exclusive group
	GroupID string
}

// TrafficRange maps the bucket range ending at EndOfRange (exclusive) to a variation
type TrafficRange struct {
	EntityID   string
	EndOfRange int
}

// Variation is one alternative of an experiment
type Variation struct {
	ID             string
	Key            string
	FeatureEnabled bool

	// Variables holds raw overrides by variable key
	Variables map[string]string
}

// Group holds mutually exclusive experiments; with the random policy a user is
// bucketed into at most one of them through the group's traffic allocation
type Group struct {
	ID                string
	Policy            GroupPolicy
	TrafficAllocation []TrafficRange
}

// GroupPolicy is how a group shares traffic between its experiments
type GroupPolicy string

const (
	GroupPolicyRandom      GroupPolicy = "random"
	GroupPolicyOverlapping GroupPolicy = "overlapping"
)

// Rollout is an ordered list of rules; the last one targets everyone else
type Rollout struct {
	ID    string
	Rules []Experiment
}

// Operator represents audience condition operators
type Operator string

const (
	OperatorEQ       Operator = "EQ"
	OperatorNEQ      Operator = "NEQ"
	OperatorLT       Operator = "LT"
	OperatorLTE      Operator = "LTE"
	OperatorGT       Operator = "GT"
	OperatorGTE      Operator = "GTE"
	OperatorIN       Operator = "IN"
	OperatorNOTIN    Operator = "NOTIN"
	OperatorMATCHES  Operator = "MATCHES"
	OperatorCONTAINS Operator = "CONTAINS"
	OperatorEXISTS   Operator = "EXISTS"
)

// Valid reports whether the operator is supported
func (o Operator) Valid() bool {
	switch o {
	case OperatorEQ, OperatorNEQ, OperatorLT, OperatorLTE, OperatorGT, OperatorGTE,
		OperatorIN, OperatorNOTIN, OperatorMATCHES, OperatorCONTAINS, OperatorEXISTS:
		return true
	}
	return false
}

// VariableType is the declared type of a feature variable
type VariableType string

const (
	VariableString  VariableType = "string"
	VariableBoolean VariableType = "boolean"
	VariableInteger VariableType = "integer"
	VariableDouble  VariableType = "double"
	VariableJSON    VariableType = "json"
)

// ExperimentStatus is the lifecycle state of an experiment
type ExperimentStatus string

const (
	StatusRunning    ExperimentStatus = "Running"
	StatusLaunched   ExperimentStatus = "Launched"
	StatusPaused     ExperimentStatus = "Paused"
	StatusNotStarted ExperimentStatus = "Not started"
	StatusArchived   ExperimentStatus = "Archived"
)

// IsRunning reports whether users can be bucketed into the experiment
func (e *Experiment) IsRunning() bool {
	return e.Status == StatusRunning || e.Status == StatusLaunched
}

// VariationByID finds a variation by ID
func (e *Experiment) VariationByID(id string) (*Variation, bool) {
	for i := range e.Variations {
		if e.Variations[i].ID == id {
			return &e.Variations[i], true
		}
	}
	return nil, false
}

// Variable finds a feature variable by key
func (f *Feature) Variable(key string) (Variable, bool) {
	for _, v := range f.Variables {
		if v.Key == key {
			return v, true
		}
	}
	return Variable{}, false
}

// ExperimentByKey finds a feature test by key
func (p *Project) ExperimentByKey(key string) (*Experiment, bool) {
	for id := range p.Experiments {
		if p.Experiments[id].Key == key {
			exp := p.Experiments[id]
			return &exp, true
		}
	}
	return nil, false
}

// FeatureKeys returns feature keys in datafile order
func (p *Project) FeatureKeys() []string {
	if len(p.FeatureOrder) == len(p.Features) {
		out := make([]string, len(p.FeatureOrder))
		copy(out, p.FeatureOrder)
		return out
	}

	keys := make([]string, 0, len(p.Features))
	for key := range p.Features {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ParseValue converts a raw datafile value to the variable's Go type
func (v Variable) ParseValue(raw string) (interface{}, error) {
	switch v.Type {
	case VariableString, "":
		return raw, nil
	case VariableBoolean:
		return strconv.ParseBool(raw)
	case VariableInteger:
		return strconv.ParseInt(raw, 10, 64)
	case VariableDouble:
		return strconv.ParseFloat(raw, 64)
	case VariableJSON:
		var out map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown variable type %q", v.Type)
	}
}

// Validate validates the project configuration
func (p *Project) Validate() error {
	for key, feature := range p.Features {
		if key == "" {
			return NewValidationError("feature key cannot be empty")
		}

		for _, variable := range feature.Variables {
			if variable.Key == "" {
				return NewValidationError(fmt.Sprintf("feature %s: variable key cannot be empty", key))
			}
			if _, err := variable.ParseValue(variable.DefaultValue); err != nil {
				return NewValidationErrorWithCause(
					fmt.Sprintf("feature %s: variable %s default value", key, variable.Key), err)
			}
		}

		for _, expID := range feature.ExperimentIDs {
			exp, ok := p.Experiments[expID]
			if !ok {
				return NewValidationError(fmt.Sprintf("feature %s references unknown experiment %s", key, expID))
			}
			if err := p.validateVariables(feature, exp); err != nil {
				return err
			}
		}

		if feature.RolloutID != "" {
			rollout, ok := p.Rollouts[feature.RolloutID]
			if !ok {
				return NewValidationError(fmt.Sprintf("feature %s references unknown rollout %s", key, feature.RolloutID))
			}
			for _, rule := range rollout.Rules {
				if err := p.validateVariables(feature, rule); err != nil {
					return err
				}
			}
		}
	}

	for id, exp := range p.Experiments {
		if err := p.validateExperiment(exp); err != nil {
			return fmt.Errorf("experiment %s: %w", id, err)
		}
	}

	for id, rollout := range p.Rollouts {
		for i, rule := range rollout.Rules {
			if err := p.validateExperiment(rule); err != nil {
				return fmt.Errorf("rollout %s rule %d: %w", id, i, err)
			}
		}
	}

	for id, audience := range p.Audiences {
		for _, cond := range audience.Conditions {
			if !cond.Operator.Valid() {
				return NewValidationError(fmt.Sprintf("audience %s: unsupported operator %q", id, cond.Operator))
			}
		}
		if err := audience.Tree.Walk(func(leaf *ConditionTree) error {
			if leaf.Condition != nil && !leaf.Condition.Operator.Valid() {
				return NewValidationError(fmt.Sprintf("audience %s: unsupported operator %q", id, leaf.Condition.Operator))
			}
			if leaf.AudienceID != "" {
				return NewValidationError(fmt.Sprintf("audience %s: conditions cannot reference audience %s", id, leaf.AudienceID))
			}
			return nil
		}); err != nil {
			return err
		}
	}

	for id, group := range p.Groups {
		if err := validateRanges(group.TrafficAllocation); err != nil {
			return fmt.Errorf("group %s: %w", id, err)
		}
		for _, tr := range group.TrafficAllocation {
			if tr.EntityID == "" {
				continue
			}
			if exp, ok := p.Experiments[tr.EntityID]; !ok || exp.GroupID != id {
				return NewValidationError(fmt.Sprintf("group %s allocates traffic to unknown experiment %s", id, tr.EntityID))
			}
		}
	}

	for key, event := range p.Events {
		for _, expID := range event.ExperimentIDs {
			if _, ok := p.Experiments[expID]; !ok {
				return NewValidationError(fmt.Sprintf("event %s references unknown experiment %s", key, expID))
			}
		}
	}

	return nil
}

// validateExperiment validates audiences, variations and traffic allocation
func (p *Project) validateExperiment(exp Experiment) error {
	if exp.Key == "" {
		return NewValidationError("experiment key cannot be empty")
	}

	for _, audienceID := range exp.AudienceIDs {
		if _, ok := p.Audiences[audienceID]; !ok {
			return NewValidationError(fmt.Sprintf("unknown audience %s", audienceID))
		}
	}

	if err := exp.AudienceConditions.Walk(func(leaf *ConditionTree) error {
		if leaf.Condition != nil {
			return NewValidationError("audience conditions must reference audiences by id")
		}
		if leaf.AudienceID == "" {
			return nil
		}
		if _, ok := p.Audiences[leaf.AudienceID]; !ok {
			return NewValidationError(fmt.Sprintf("unknown audience %s", leaf.AudienceID))
		}
		return nil
	}); err != nil {
		return err
	}

	if exp.GroupID != "" {
		if _, ok := p.Groups[exp.GroupID]; !ok {
			return NewValidationError(fmt.Sprintf("unknown group %s", exp.GroupID))
		}
	}

	if err := validateRanges(exp.TrafficAllocation); err != nil {
		return err
	}

	for _, tr := range exp.TrafficAllocation {
		// An empty entity id reserves the range for nobody
		if tr.EntityID == "" {
			continue
		}
		if _, ok := exp.VariationByID(tr.EntityID); !ok {
			return NewValidationError(fmt.Sprintf("traffic range references unknown variation %s", tr.EntityID))
		}
	}

	return nil
}

// validateVariables checks that variation overrides refer to declared variables and parse
func (p *Project) validateVariables(feature Feature, exp Experiment) error {
	for _, variation := range exp.Variations {
		for varKey, raw := range variation.Variables {
			variable, ok := feature.Variable(varKey)
			if !ok {
				return NewValidationError(
					fmt.Sprintf("variation %s sets unknown variable %s of feature %s", variation.Key, varKey, feature.Key),
				)
			}
			if _, err := variable.ParseValue(raw); err != nil {
				return NewValidationErrorWithCause(
					fmt.Sprintf("variation %s variable %s", variation.Key, varKey), err)
			}
		}
	}
	return nil
}

// validateRanges checks traffic ranges are within the bucket space and ascending
func validateRanges(ranges []TrafficRange) error {
	previous := 0
	for _, tr := range ranges {
		if tr.EndOfRange < 0 || tr.EndOfRange > MaxTrafficValue {
			return NewValidationError(
				fmt.Sprintf("traffic range end %d must be between 0 and %d", tr.EndOfRange, MaxTrafficValue),
			)
		}
		if tr.EndOfRange < previous {
			return NewValidationError("traffic ranges must be in ascending order")
		}
		previous = tr.EndOfRange
	}
	return nil
}
