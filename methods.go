package flagbridge

import (
	"context"
	"sort"

	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
)

// requirement is the handle an operation needs before it runs.
type requirement int

const (
	needsNothing requirement = iota
	needsClient
	needsUser
)

// handles is the session state an operation runs against.
type handles struct {
	client sdk.Client
	user   sdk.UserContext

	// generation is the begin-client ticket claimed when the call arrived
	generation uint64
}

// operation is one row of the method table.
type operation struct {
	params   []param
	requires requirement

	// async operations reply from their own goroutine after Handle returns
	async bool

	// beginsClient operations claim a client generation on arrival
	beginsClient bool

	run func(ctx context.Context, b *Bridge, h handles, args Arguments) (any, error)
}

var operations = map[string]operation{
	MethodInitManager: {
		params: []param{
			{key: "sdk_key", kind: kindString},
			{key: "datafile", kind: kindText},
		},
		beginsClient: true,
		run: func(ctx context.Context, b *Bridge, h handles, args Arguments) (any, error) {
			return nil, b.beginClient(ctx, h.generation, clientConfig(args.String("sdk_key"), args.Bytes("datafile")))
		},
	},

	MethodInitManagerAsync: {
		params: []param{
			{key: "sdk_key", kind: kindString},
		},
		async:        true,
		beginsClient: true,
		run: func(ctx context.Context, b *Bridge, h handles, args Arguments) (any, error) {
			return nil, b.beginClient(ctx, h.generation, clientConfig(args.String("sdk_key"), nil))
		},
	},

	MethodSetUser: {
		params: []param{
			{key: "user_id", kind: kindString},
			{key: "attributes", kind: kindMap, optional: true},
		},
		requires: needsClient,
		run: func(ctx context.Context, b *Bridge, h handles, args Arguments) (any, error) {
			return nil, b.setUser(h.client, args.String("user_id"), args.Map("attributes"))
		},
	},

	MethodIsFeatureEnabled: {
		params:   []param{{key: "feature_key", kind: kindString}},
		requires: needsUser,
		run: func(ctx context.Context, _ *Bridge, h handles, args Arguments) (any, error) {
			decision, err := h.user.Decide(ctx, args.String("feature_key"))
			if err != nil {
				return nil, err
			}
			return decision.Enabled, nil
		},
	},

	MethodGetAllFeatureVars: {
		params:   []param{{key: "feature_key", kind: kindString}},
		requires: needsUser,
		run: func(ctx context.Context, _ *Bridge, h handles, args Arguments) (any, error) {
			decision, err := h.user.Decide(ctx, args.String("feature_key"))
			if err != nil {
				return nil, err
			}
			if decision.Variables == nil {
				return map[string]any{}, nil
			}
			return decision.Variables, nil
		},
	},

	MethodGetAllEnabledFeatures: {
		requires: needsUser,
		run: func(ctx context.Context, _ *Bridge, h handles, _ Arguments) (any, error) {
			decisions, err := h.user.DecideAll(ctx, sdk.EnabledFlagsOnly)
			if err != nil {
				return nil, err
			}

			keys := make([]string, 0, len(decisions))
			for key, decision := range decisions {
				if decision.Enabled {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)
			return keys, nil
		},
	},

	MethodGetVariation: {
		params: []param{
			{key: "feature_key", kind: kindString},
			{key: "user_id", kind: kindString},
			{key: "attributes", kind: kindMap},
		},
		requires: needsClient,
		run: func(ctx context.Context, _ *Bridge, h handles, args Arguments) (any, error) {
			variation, err := h.client.GetVariation(ctx, args.String("feature_key"), args.String("user_id"), args.Map("attributes"))
			if err != nil {
				return nil, err
			}
			return optionalString(variation), nil
		},
	},

	MethodActivateGetVariation: {
		params:   []param{{key: "feature_key", kind: kindString}},
		requires: needsUser,
		run: func(ctx context.Context, _ *Bridge, h handles, args Arguments) (any, error) {
			decision, err := h.user.Decide(ctx, args.String("feature_key"))
			if err != nil {
				return nil, err
			}
			return optionalString(decision.VariationKey), nil
		},
	},

	MethodTrackEvent: {
		params: []param{
			{key: "feature_key", kind: kindString, aliases: []string{"event_key"}},
			{key: "event_tags", kind: kindMap},
		},
		requires: needsUser,
		run: func(ctx context.Context, _ *Bridge, h handles, args Arguments) (any, error) {
			return nil, h.user.TrackEvent(ctx, args.String("feature_key"), args.Map("event_tags"))
		},
	},
}

// Methods returns the method names the bridge implements, sorted.
func Methods() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// optionalString maps an empty variation key to an absent value.
func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
