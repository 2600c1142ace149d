// Package sdk declares the experimentation capabilities the bridge drives.
//
// The bridge only depends on these interfaces. internal/engine provides the in-process
// implementation and tests substitute fakes.
package sdk

import (
	"context"
	"time"
)

// Default intervals used when the bridge builds a client configuration
const (
	DatafilePollInterval  = 15 * time.Minute
	EventDispatchInterval = 30 * time.Second
)

// Config is what a client is started with
type Config struct {
	SDKKey string

	// Datafile is the initial configuration; nil means fetch it remotely
	Datafile []byte

	PollInterval     time.Duration
	DispatchInterval time.Duration
}

// DecideOption alters a single decision
type DecideOption string

const (
	EnabledFlagsOnly     DecideOption = "ENABLED_FLAGS_ONLY"
	DisableDecisionEvent DecideOption = "DISABLE_DECISION_EVENT"
	IncludeReasons       DecideOption = "INCLUDE_REASONS"
	ExcludeVariables     DecideOption = "EXCLUDE_VARIABLES"
)

// HasOption reports whether opt is in opts
func HasOption(opts []DecideOption, opt DecideOption) bool {
	for _, o := range opts {
		if o == opt {
			return true
		}
	}
	return false
}

// Decision is the outcome of deciding one flag for one user
type Decision struct {
	FlagKey      string
	Enabled      bool
	VariationKey string
	RuleKey      string
	Variables    map[string]any
	Reasons      []string
}

// Starter builds and starts clients
type Starter interface {
	// Start blocks until the client has a usable configuration or fails
	Start(ctx context.Context, cfg Config) (Client, error)
}

// Client is a started SDK instance
type Client interface {
	// CreateUserContext binds a user id and attributes to the client
	CreateUserContext(userID string, attributes map[string]any) (UserContext, error)

	// GetVariation returns the variation key for an experiment, or "" when the user is not bucketed
	GetVariation(ctx context.Context, experimentKey, userID string, attributes map[string]any) (string, error)

	Close() error
}

// UserContext makes decisions and tracks events for one user
type UserContext interface {
	UserID() string
	Attributes() map[string]any

	Decide(ctx context.Context, flagKey string, opts ...DecideOption) (Decision, error)
	DecideAll(ctx context.Context, opts ...DecideOption) (map[string]Decision, error)
	TrackEvent(ctx context.Context, eventKey string, tags map[string]any) error
}

// Refresher is implemented by clients that can force a configuration sync
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Stats summarises a client's runtime state
type Stats struct {
	SDKKey          string    `json:"sdk_key"`
	Revision        string    `json:"revision"`
	LastRefresh     time.Time `json:"last_refresh"`
	Refreshes       int64     `json:"refreshes"`
	RefreshFailures int64     `json:"refresh_failures"`
	FromSnapshot    bool      `json:"from_snapshot"`
	CircuitState    string    `json:"circuit_state"`
	EventsQueued    int64     `json:"events_queued"`
	EventsSent      int64     `json:"events_sent"`
	EventsDropped   int64     `json:"events_dropped"`
	EventsFailed    int64     `json:"events_failed"`
}

// StatsReporter is implemented by clients exposing runtime stats
type StatsReporter interface {
	Stats() Stats
}
