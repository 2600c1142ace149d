package flagbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// Bridge is the dispatcher for one host session.
// It holds the active client and user context; every other piece of state
// belongs to the SDK.
type Bridge struct {
	starter   sdk.Starter
	logger    *slog.Logger
	telemetry telemetry.Provider

	mu     sync.RWMutex
	client sdk.Client
	user   sdk.UserContext

	// generation increases on every begin-client so a slower start can tell it was superseded
	generation uint64
}

// New creates a bridge with the given options.
//
// Example:
//
//	bridge, err := flagbridge.New(
//	    flagbridge.WithStarter(engine.NewStarter()),
//	    flagbridge.WithLogger(logger),
//	)
func New(opts ...Option) (*Bridge, error) {
	cfg := &bridgeConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.starter == nil {
		return nil, fmt.Errorf("starter is required")
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.telemetry == nil {
		cfg.telemetry = telemetry.NewNoOp()
	}

	return &Bridge{
		starter:   cfg.starter,
		logger:    cfg.logger.With("channel", ChannelName),
		telemetry: cfg.telemetry,
	}, nil
}

// Handle serves one call and replies through result exactly once.
// Async begin-client replies after Handle returns, once the start completes.
func (b *Bridge) Handle(ctx context.Context, call Call, result Result) {
	once := &onceResult{result: result}

	b.serve(ctx, call, func(value any, err *Error) {
		if err == nil {
			once.Success(value)
			return
		}
		if err.Code == CodeNotImplemented {
			once.NotImplemented()
			return
		}
		once.Error(err.Code, err.Message, err.Details)
	})
}

// Dispatch serves one call and waits for its reply.
// Failures are returned as *Error.
func (b *Bridge) Dispatch(ctx context.Context, method string, arguments any) (any, error) {
	done := make(chan struct{})
	var (
		value any
		fail  *Error
		once  sync.Once
	)

	b.serve(ctx, Call{Method: method, Arguments: arguments}, func(v any, err *Error) {
		once.Do(func() {
			value, fail = v, err
			close(done)
		})
	})

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if fail != nil {
		return nil, fail
	}
	return value, nil
}

// Ready reports whether a client and a user context are installed.
func (b *Bridge) Ready() (client, user bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client != nil, b.user != nil
}

// Stats returns the active client's stats, if it reports any.
func (b *Bridge) Stats() (sdk.Stats, bool) {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	reporter, ok := client.(sdk.StatsReporter)
	if !ok {
		return sdk.Stats{}, false
	}
	return reporter.Stats(), true
}

// Refresh forces the active client to sync its configuration.
func (b *Bridge) Refresh(ctx context.Context) error {
	b.mu.RLock()
	client := b.client
	b.mu.RUnlock()

	if client == nil {
		return errClientNotInitialized()
	}

	refresher, ok := client.(sdk.Refresher)
	if !ok {
		return fmt.Errorf("client does not support refresh")
	}
	return refresher.Refresh(ctx)
}

// Close releases the session's handles. It is not reachable from the channel.
func (b *Bridge) Close() error {
	b.mu.Lock()
	client := b.client
	b.client, b.user = nil, nil
	b.generation++
	b.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// serve validates, routes and runs one call; done is called exactly once.
func (b *Bridge) serve(ctx context.Context, call Call, done func(any, *Error)) {
	start := time.Now()
	logger := b.logger.With("method", call.Method)

	finish := func(value any, err *Error) {
		code := "ok"
		if err != nil {
			code = err.Code
			logger.Debug("call failed", "code", err.Code, "error", err.Message)
		} else {
			logger.Debug("call succeeded")
		}
		b.telemetry.RecordCall(ctx, call.Method, code, time.Since(start))
		done(value, err)
	}

	op, ok := operations[call.Method]
	if !ok {
		finish(nil, errNotImplemented(call.Method))
		return
	}

	raw, err := parseArguments(call.Arguments)
	if err != nil {
		finish(nil, errSDK(err))
		return
	}

	args, err := raw.extract(op.params)
	if err != nil {
		finish(nil, errSDK(err))
		return
	}

	var generation uint64
	if op.beginsClient {
		generation = b.claimGeneration()
	}

	if op.async {
		// the start outlives the request that triggered it
		go b.invoke(context.WithoutCancel(ctx), call.Method, op, args, generation, finish)
		return
	}

	b.invoke(ctx, call.Method, op, args, generation, finish)
}

// invoke checks handles and runs the operation, recovering SDK panics.
func (b *Bridge) invoke(ctx context.Context, method string, op operation, args Arguments, generation uint64, finish func(any, *Error)) {
	ctx, span := b.telemetry.StartSpan(ctx, "bridge."+method,
		telemetry.WithAttributes(telemetry.String("bridge.method", method)),
	)
	defer span.End()

	h, herr := b.handles(op.requires)
	if herr != nil {
		span.RecordError(herr)
		finish(nil, herr)
		return
	}
	h.generation = generation

	value, err := b.run(ctx, op, h, args)
	if err != nil {
		span.RecordError(err)
		finish(nil, errSDK(err))
		return
	}

	finish(value, nil)
}

func (b *Bridge) run(ctx context.Context, op operation, h handles, args Arguments) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("recovered panic in sdk call", "panic", r)
			err = fmt.Errorf("sdk panic: %v", r)
		}
	}()

	return op.run(ctx, b, h, args)
}

func (b *Bridge) handles(req requirement) (handles, *Error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	h := handles{client: b.client, user: b.user}

	switch req {
	case needsClient:
		if h.client == nil {
			return h, errClientNotInitialized()
		}
	case needsUser:
		if h.client == nil {
			return h, errClientNotInitialized()
		}
		if h.user == nil {
			return h, errUserNotInitialized()
		}
	}

	return h, nil
}

// claimGeneration makes every earlier begin-client stale.
func (b *Bridge) claimGeneration() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	return b.generation
}

// beginClient starts a client and installs it unless a newer begin-client
// superseded this one while it was starting.
func (b *Bridge) beginClient(ctx context.Context, gen uint64, cfg sdk.Config) error {
	b.logger.Info("starting client", "sdk_key", cfg.SDKKey, "static", cfg.Datafile != nil)

	client, err := b.starter.Start(ctx, cfg)
	if err != nil {
		b.logger.Warn("client start failed", "sdk_key", cfg.SDKKey, "error", err)
		return err
	}
	if client == nil {
		return fmt.Errorf("sdk returned no client")
	}

	b.mu.Lock()
	if gen != b.generation {
		b.mu.Unlock()
		client.Close()
		b.logger.Info("discarding superseded client", "sdk_key", cfg.SDKKey)
		return errClientSuperseded()
	}
	previous := b.client
	b.client = client
	// the user context belongs to the previous client
	b.user = nil
	b.mu.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			b.logger.Warn("failed to close previous client", "error", err)
		}
	}

	b.logger.Info("client ready", "sdk_key", cfg.SDKKey)
	return nil
}

// setUser replaces the user context if client is still the active one.
func (b *Bridge) setUser(client sdk.Client, userID string, attributes map[string]any) error {
	user, err := client.CreateUserContext(userID, attributes)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != client {
		return errClientSuperseded()
	}
	b.user = user
	return nil
}
