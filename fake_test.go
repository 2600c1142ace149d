package flagbridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
)

// fakeStarter is a hand-written SDK whose decisions mirror testdata/project.json.
type fakeStarter struct {
	mu      sync.Mutex
	configs []sdk.Config
	clients []*fakeClient

	// StartFunc overrides Start when set
	StartFunc func(ctx context.Context, cfg sdk.Config) (sdk.Client, error)
}

func (s *fakeStarter) Start(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
	s.mu.Lock()
	s.configs = append(s.configs, cfg)
	fn := s.StartFunc
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	return s.newClient(cfg), nil
}

func (s *fakeStarter) newClient(cfg sdk.Config) *fakeClient {
	c := &fakeClient{sdkKey: cfg.SDKKey}
	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	return c
}

func (s *fakeStarter) Configs() []sdk.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sdk.Config(nil), s.configs...)
}

type fakeClient struct {
	sdkKey string
	closed atomic.Bool
	tracks atomic.Int32

	// panicOn makes Decide panic for that flag key
	panicOn string
}

func (c *fakeClient) CreateUserContext(userID string, attributes map[string]any) (sdk.UserContext, error) {
	if c.closed.Load() {
		return nil, errors.New("client is closed")
	}
	return &fakeUser{client: c, userID: userID, attrs: attributes}, nil
}

func (c *fakeClient) GetVariation(ctx context.Context, experimentKey, userID string, attributes map[string]any) (string, error) {
	switch experimentKey {
	case "checkout_test":
		if attributes["plan"] == "pro" {
			return "treatment", nil
		}
		return "", nil
	case "pricing_test":
		return "high", nil
	case "paused_test":
		return "", nil
	}
	return "", fmt.Errorf("experiment not found: %s", experimentKey)
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeUser struct {
	client *fakeClient
	userID string
	attrs  map[string]any
}

func (u *fakeUser) UserID() string             { return u.userID }
func (u *fakeUser) Attributes() map[string]any { return u.attrs }

func (u *fakeUser) Decide(ctx context.Context, flagKey string, opts ...sdk.DecideOption) (sdk.Decision, error) {
	if flagKey == u.client.panicOn {
		panic("decide exploded")
	}

	d := sdk.Decision{FlagKey: flagKey}
	switch flagKey {
	case "checkout_v2":
		d.Variables = map[string]any{"color": "blue", "limit": int64(3), "beta": false}
		switch {
		case u.attrs["plan"] == "pro":
			d.Enabled, d.VariationKey, d.RuleKey = true, "treatment", "checkout_test"
			d.Variables = map[string]any{"color": "red", "limit": int64(3), "beta": true}
		case isAdult(u.attrs["age"]):
			d.Enabled, d.VariationKey, d.RuleKey = true, "on", "adults"
			d.Variables["limit"] = int64(10)
		default:
			d.VariationKey, d.RuleKey = "off", "everyone_else"
		}
	case "dark_mode":
		d.Enabled, d.VariationKey, d.RuleKey = true, "on", "everyone_else"
		d.Variables = map[string]any{"theme": map[string]any{"bg": "black"}}
	case "legacy_banner":
		d.Variables = map[string]any{}
	default:
		d.Variables = map[string]any{}
		d.Reasons = []string{fmt.Sprintf("feature not found: %s", flagKey)}
	}

	if sdk.HasOption(opts, sdk.ExcludeVariables) {
		d.Variables = nil
	}
	return d, nil
}

func (u *fakeUser) DecideAll(ctx context.Context, opts ...sdk.DecideOption) (map[string]sdk.Decision, error) {
	out := make(map[string]sdk.Decision)
	keys := []string{"checkout_v2", "dark_mode", "legacy_banner"}
	sort.Strings(keys)

	for _, key := range keys {
		d, err := u.Decide(ctx, key, opts...)
		if err != nil {
			return nil, err
		}
		if sdk.HasOption(opts, sdk.EnabledFlagsOnly) && !d.Enabled {
			continue
		}
		out[key] = d
	}
	return out, nil
}

func (u *fakeUser) TrackEvent(ctx context.Context, eventKey string, tags map[string]any) error {
	if eventKey != "purchase" && eventKey != "signup" {
		return fmt.Errorf("event not found: %s", eventKey)
	}
	u.client.tracks.Add(1)
	return nil
}

func isAdult(v any) bool {
	switch n := v.(type) {
	case int:
		return n >= 18
	case int64:
		return n >= 18
	case uint64:
		return n >= 18
	case float64:
		return n >= 18
	}
	return false
}
