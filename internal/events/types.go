// Package events batches impression and conversion events and sends them to the event endpoint.
package events

import (
	"time"
)

// Event kinds
const (
	KindImpression = "impression"
	KindConversion = "conversion"
)

// Reserved event tags lifted into typed fields
const (
	RevenueTag = "revenue"
	ValueTag   = "value"
)

// ClientName identifies this SDK in dispatched batches
const ClientName = "flagbridge"

// Event is a single impression or conversion
type Event struct {
	UUID      string    `json:"uuid"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	ProjectID string `json:"project_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Revision  string `json:"revision,omitempty"`

	UserID     string                 `json:"user_id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	Impression *Impression `json:"impression,omitempty"`
	Conversion *Conversion `json:"conversion,omitempty"`
}

// Impression records that a user was shown a decision
type Impression struct {
	FlagKey      string `json:"flag_key"`
	RuleKey      string `json:"rule_key,omitempty"`
	RuleType     string `json:"rule_type,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
	VariationID  string `json:"variation_id,omitempty"`
	VariationKey string `json:"variation_key,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// Conversion records a tracked event
type Conversion struct {
	EventID       string                 `json:"event_id"`
	EventKey      string                 `json:"event_key"`
	ExperimentIDs []string               `json:"experiment_ids,omitempty"`
	Tags          map[string]interface{} `json:"tags,omitempty"`
	Revenue       *int64                 `json:"revenue,omitempty"`
	Value         *float64               `json:"value,omitempty"`
}

// Batch is the payload sent to the event endpoint
type Batch struct {
	ClientName string    `json:"client_name"`
	SentAt     time.Time `json:"sent_at"`
	Events     []Event   `json:"events"`
}
