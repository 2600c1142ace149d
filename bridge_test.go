package flagbridge

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/flagbridge/internal/engine"
	"github.com/OrlandoBitencourt/flagbridge/internal/events"
	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
)

// recorder is a Result that records every reply it receives.
type recorder struct {
	mu      sync.Mutex
	replies []string
	value   any
	code    string
	message string
	got     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) Success(value any) {
	r.mu.Lock()
	r.replies = append(r.replies, "success")
	r.value = value
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) Error(code, message string, details any) {
	r.mu.Lock()
	r.replies = append(r.replies, "error")
	r.code, r.message = code, message
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) NotImplemented() {
	r.mu.Lock()
	r.replies = append(r.replies, "not_implemented")
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
}

func TestNew_RequiresStarter(t *testing.T) {
	_, err := New()
	assert.Error(t, err)

	_, err = New(WithStarter(nil))
	assert.Error(t, err)

	_, err = New(WithStarter(&fakeStarter{}), WithLogger(nil))
	assert.Error(t, err)
}

func TestBridge_HandleRepliesOnce(t *testing.T) {
	b := newTestBridge(t, &fakeStarter{})

	tests := []struct {
		name   string
		call   Call
		expect string
		code   string
	}{
		{"not implemented", Call{Method: "frobnicate"}, "not_implemented", ""},
		{"client missing", Call{Method: MethodSetUser, Arguments: map[string]any{"user_id": "u1"}}, "error", CodeClient},
		{"bad payload", Call{Method: MethodSetUser, Arguments: []any{"u1"}}, "error", CodeArguments},
		{"init", Call{Method: MethodInitManager, Arguments: map[string]any{"sdk_key": "k", "datafile": "{}"}}, "success", ""},
		{"set user", Call{Method: MethodSetUser, Arguments: map[string]any{"user_id": "u1"}}, "success", ""},
		{"track", Call{Method: MethodTrackEvent, Arguments: map[string]any{"event_key": "purchase", "event_tags": map[string]any{}}}, "success", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRecorder()
			b.Handle(context.Background(), tt.call, r)
			r.wait(t)

			r.mu.Lock()
			defer r.mu.Unlock()
			assert.Equal(t, []string{tt.expect}, r.replies)
			assert.Equal(t, tt.code, r.code)
		})
	}
}

func TestBridge_HandleWithResultFunc(t *testing.T) {
	b := newTestBridge(t, &fakeStarter{})

	type reply struct {
		value any
		err   *Error
	}
	replies := make(chan reply, 4)
	result := ResultFunc(func(value any, err *Error) {
		replies <- reply{value, err}
	})

	next := func() reply {
		t.Helper()
		select {
		case r := <-replies:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no reply")
			return reply{}
		}
	}

	b.Handle(context.Background(), Call{Method: MethodInitManager, Arguments: map[string]any{"sdk_key": "k", "datafile": "{}"}}, result)
	r := next()
	assert.Nil(t, r.err)
	assert.Nil(t, r.value)

	b.Handle(context.Background(), Call{Method: MethodIsFeatureEnabled, Arguments: map[string]any{"feature_key": "dark_mode"}}, result)
	r = next()
	require.NotNil(t, r.err)
	assert.Equal(t, CodeUser, r.err.Code)
	assert.Equal(t, "Optimizely user not initialized", r.err.Message)

	b.Handle(context.Background(), Call{Method: "frobnicate"}, result)
	r = next()
	require.NotNil(t, r.err)
	assert.Equal(t, CodeNotImplemented, r.err.Code)

	assert.Empty(t, replies)
}

func TestBridge_InitAcceptsOptimizelyDatafile(t *testing.T) {
	datafile, err := os.ReadFile("internal/datafile/testdata/optimizely_v4.json")
	require.NoError(t, err)

	b := newTestBridge(t, engine.NewStarter(
		engine.WithDispatcher(events.NewMockDispatcher()),
		engine.WithLogger(testLogger()),
	))

	assert.Nil(t, mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "WTc6awnGuYDdG98CYRban", "datafile": string(datafile)}))
	mustDispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1", "attributes": map[string]any{"plan": "pro"}})

	assert.Equal(t, true, mustDispatch(t, b, MethodIsFeatureEnabled, map[string]any{"feature_key": "checkout_flow"}))
	assert.Equal(t, "treatment", mustDispatch(t, b, MethodActivateGetVariation, map[string]any{"feature_key": "checkout_flow"}))
	assert.Equal(t, []string{"checkout_flow"}, mustDispatch(t, b, MethodGetAllEnabledFeatures, nil))
	assert.Nil(t, mustDispatch(t, b, MethodTrackEvent, map[string]any{"feature_key": "purchase", "event_tags": map[string]any{"revenue": 1999}}))
}

func TestBridge_InitPassesFixedIntervals(t *testing.T) {
	starter := &fakeStarter{}
	b := newTestBridge(t, starter)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{\"version\":\"4\"}"})
	mustDispatch(t, b, MethodInitManagerAsync, map[string]any{"sdk_key": "k2"})

	configs := starter.Configs()
	require.Len(t, configs, 2)

	assert.Equal(t, "k", configs[0].SDKKey)
	assert.Equal(t, []byte("{\"version\":\"4\"}"), configs[0].Datafile)
	assert.Equal(t, 15*time.Minute, configs[0].PollInterval)
	assert.Equal(t, 30*time.Second, configs[0].DispatchInterval)

	assert.Equal(t, "k2", configs[1].SDKKey)
	assert.Nil(t, configs[1].Datafile)
	assert.Equal(t, DatafilePollInterval, configs[1].PollInterval)
	assert.Equal(t, EventDispatchInterval, configs[1].DispatchInterval)
}

func TestBridge_InitAcceptsBytesDatafile(t *testing.T) {
	starter := &fakeStarter{}
	b := newTestBridge(t, starter)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": []byte("{}")})
	assert.Equal(t, []byte("{}"), starter.Configs()[0].Datafile)
}

func TestBridge_InitFailurePassesThrough(t *testing.T) {
	starter := &fakeStarter{
		StartFunc: func(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
			return nil, errors.New("datafile is not valid JSON")
		},
	}
	b := newTestBridge(t, starter)

	_, err := dispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{"})
	assertCode(t, err, CodeSDK)
	assert.Equal(t, "datafile is not valid JSON", err.Error())

	client, user := b.Ready()
	assert.False(t, client)
	assert.False(t, user)
}

func TestBridge_AsyncInitNotObservableBeforeStart(t *testing.T) {
	release := make(chan struct{})
	starter := &fakeStarter{}
	starter.StartFunc = func(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
		<-release
		return starter.newClient(cfg), nil
	}
	b := newTestBridge(t, starter)

	r := newRecorder()
	b.Handle(context.Background(), Call{Method: MethodInitManagerAsync, Arguments: map[string]any{"sdk_key": "k"}}, r)

	// Handle returned but the start is pending
	_, err := dispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})
	assertCode(t, err, CodeClient)

	close(release)
	r.wait(t)
	assert.Equal(t, []string{"success"}, r.replies)

	mustDispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})
}

func TestBridge_AsyncInitFailureLeavesBridgeUninitialized(t *testing.T) {
	starter := &fakeStarter{
		StartFunc: func(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
			return nil, errors.New("failed to fetch datafile: HTTP 403")
		},
	}
	b := newTestBridge(t, starter)

	_, err := dispatch(t, b, MethodInitManagerAsync, map[string]any{"sdk_key": "k"})
	assertCode(t, err, CodeSDK)
	assert.Equal(t, "failed to fetch datafile: HTTP 403", err.Error())

	_, err = dispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})
	assertCode(t, err, CodeClient)
}

func TestBridge_SupersededAsyncStart(t *testing.T) {
	release := make(chan struct{})
	starter := &fakeStarter{}
	var stale *fakeClient
	starter.StartFunc = func(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
		c := starter.newClient(cfg)
		if cfg.Datafile == nil {
			stale = c
			<-release
		}
		return c, nil
	}
	b := newTestBridge(t, starter)

	r := newRecorder()
	b.Handle(context.Background(), Call{Method: MethodInitManagerAsync, Arguments: map[string]any{"sdk_key": "slow"}}, r)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "fast", "datafile": "{}"})
	mustDispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})

	close(release)
	r.wait(t)

	assert.Equal(t, CodeClient, r.code)
	assert.True(t, stale.closed.Load(), "superseded client is closed")

	// the newer client and its user are still active
	_, user := b.Ready()
	assert.True(t, user)
	assert.Equal(t, true, mustDispatch(t, b, MethodIsFeatureEnabled, map[string]any{"feature_key": "dark_mode"}))
}

func TestBridge_ReinitInvalidatesUser(t *testing.T) {
	starter := &fakeStarter{}
	b := newTestBridge(t, starter)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{}"})
	mustDispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})
	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{}"})

	_, err := dispatch(t, b, MethodIsFeatureEnabled, map[string]any{"feature_key": "dark_mode"})
	assertCode(t, err, CodeUser)

	starter.mu.Lock()
	first := starter.clients[0]
	starter.mu.Unlock()
	assert.True(t, first.closed.Load(), "previous client is closed")
}

func TestBridge_RecoversPanics(t *testing.T) {
	starter := &fakeStarter{}
	starter.StartFunc = func(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
		c := starter.newClient(cfg)
		c.panicOn = "checkout_v2"
		return c, nil
	}
	b := newTestBridge(t, starter)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{}"})
	mustDispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})

	_, err := dispatch(t, b, MethodIsFeatureEnabled, map[string]any{"feature_key": "checkout_v2"})
	assertCode(t, err, CodeSDK)
	assert.Contains(t, err.Error(), "decide exploded")

	// the session survives
	assert.Equal(t, true, mustDispatch(t, b, MethodIsFeatureEnabled, map[string]any{"feature_key": "dark_mode"}))
}

func TestBridge_EventKeyAlias(t *testing.T) {
	starter := &fakeStarter{}
	b := newTestBridge(t, starter)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{}"})
	mustDispatch(t, b, MethodSetUser, map[string]any{"user_id": "u1"})
	mustDispatch(t, b, MethodTrackEvent, map[string]any{"event_key": "purchase", "event_tags": map[string]any{}})
	mustDispatch(t, b, MethodTrackEvent, map[string]any{"feature_key": "signup", "event_tags": map[string]any{}})

	assert.Equal(t, int32(2), starter.clients[0].tracks.Load())

	_, err := dispatch(t, b, MethodTrackEvent, map[string]any{"event_key": "purchase"})
	assertCode(t, err, CodeArgument)
	assert.Equal(t, "Missing argument for key: event_tags", err.Error())
}

func TestBridge_DispatchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	starter := &fakeStarter{
		StartFunc: func(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
			<-release
			return nil, errors.New("never")
		},
	}
	b := newTestBridge(t, starter)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Dispatch(ctx, MethodInitManagerAsync, map[string]any{"sdk_key": "k"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBridge_StatsAndRefresh(t *testing.T) {
	b := newTestBridge(t, &fakeStarter{})

	_, ok := b.Stats()
	assert.False(t, ok)
	assertCode(t, b.Refresh(context.Background()), CodeClient)

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{}"})

	// the fake client reports no stats and cannot refresh
	_, ok = b.Stats()
	assert.False(t, ok)
	assert.Error(t, b.Refresh(context.Background()))
}

func TestBridge_Close(t *testing.T) {
	starter := &fakeStarter{}
	b := newTestBridge(t, starter)

	require.NoError(t, b.Close())

	mustDispatch(t, b, MethodInitManager, map[string]any{"sdk_key": "k", "datafile": "{}"})
	require.NoError(t, b.Close())
	assert.True(t, starter.clients[0].closed.Load())

	client, _ := b.Ready()
	assert.False(t, client)
}

func TestMethods(t *testing.T) {
	assert.Equal(t, []string{
		MethodActivateGetVariation,
		MethodGetAllEnabledFeatures,
		MethodGetAllFeatureVars,
		MethodGetVariation,
		MethodInitManager,
		MethodInitManagerAsync,
		MethodIsFeatureEnabled,
		MethodSetUser,
		MethodTrackEvent,
	}, Methods())
}
