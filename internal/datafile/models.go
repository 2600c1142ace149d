package datafile

import "encoding/json"

// =======================
// DATAFILE MODELS (JSON)
// =======================

// Datafile is the JSON project configuration served by the CDN or supplied by the host
type Datafile struct {
	Version      string        `json:"version"`
	Revision     string        `json:"revision"`
	ProjectID    string        `json:"projectId"`
	AccountID    string        `json:"accountId"`
	Attributes   []Attribute   `json:"attributes"`
	Audiences    []Audience    `json:"audiences"`

	// TypedAudiences override audiences with the same id
	TypedAudiences []Audience `json:"typedAudiences"`
	Events       []Event       `json:"events"`
	FeatureFlags []FeatureFlag `json:"featureFlags"`
	Experiments  []Experiment  `json:"experiments"`
	Rollouts     []Rollout     `json:"rollouts"`
	Groups       []Group       `json:"groups"`
}

type Attribute struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// =======================
// AUDIENCES
// =======================

// Audience conditions come in three shapes: a flat list of Condition objects,
// an and/or/not tree of leaf conditions, or that tree encoded as a JSON string.
type Audience struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Conditions json.RawMessage `json:"conditions"`
}

type Condition struct {
	Attribute string      `json:"attribute"`
	Operator  string      `json:"operator"`
	Value     interface{} `json:"value"`
}

// =======================
// EVENTS
// =======================

type Event struct {
	ID            string   `json:"id"`
	Key           string   `json:"key"`
	ExperimentIDs []string `json:"experimentIds"`
}

// =======================
// FEATURES
// =======================

type FeatureFlag struct {
	ID            string     `json:"id"`
	Key           string     `json:"key"`
	ExperimentIDs []string   `json:"experimentIds"`
	RolloutID     string     `json:"rolloutId"`
	Variables     []Variable `json:"variables"`
}

type Variable struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	Type         string `json:"type"`
	SubType      string `json:"subType,omitempty"`
	DefaultValue string `json:"defaultValue"`
}

// =======================
// EXPERIMENTS & ROLLOUTS
// =======================

type Experiment struct {
	ID                string         `json:"id"`
	Key               string         `json:"key"`
	LayerID           string         `json:"layerId"`
	Status            string         `json:"status"`
	AudienceIDs       []string       `json:"audienceIds"`
	AudienceConditions json.RawMessage `json:"audienceConditions,omitempty"`
	TrafficAllocation []TrafficRange `json:"trafficAllocation"`
	Variations        []Variation    `json:"variations"`
}

type TrafficRange struct {
	EntityID   string `json:"entityId"`
	EndOfRange int    `json:"endOfRange"`
}

type Variation struct {
	ID             string          `json:"id"`
	Key            string          `json:"key"`
	FeatureEnabled bool            `json:"featureEnabled"`
	Variables      []VariableUsage `json:"variables"`
}

// VariableUsage overrides a feature variable; ID refers to the feature variable id, Key may be used instead
type VariableUsage struct {
	ID    string `json:"id"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

type Rollout struct {
	ID          string       `json:"id"`
	Experiments []Experiment `json:"experiments"`
}

// Group holds mutually exclusive experiments
type Group struct {
	ID                string         `json:"id"`
	Policy            string         `json:"policy"`
	TrafficAllocation []TrafficRange `json:"trafficAllocation"`
	Experiments       []Experiment   `json:"experiments"`
}
