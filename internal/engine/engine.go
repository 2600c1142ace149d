// Package engine is the in-process experimentation SDK: it parses datafiles, keeps them
// fresh, decides features locally and batches impression and conversion events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/OrlandoBitencourt/flagbridge/internal/cache"
	"github.com/OrlandoBitencourt/flagbridge/internal/cdn"
	"github.com/OrlandoBitencourt/flagbridge/internal/evaluator"
	"github.com/OrlandoBitencourt/flagbridge/internal/events"
	"github.com/OrlandoBitencourt/flagbridge/internal/sdk"
	"github.com/OrlandoBitencourt/flagbridge/internal/storage"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// Starter builds engine clients
type Starter struct {
	fetcher        cdn.Fetcher
	cdnConfig      cdn.Config
	httpClient     *http.Client
	snapshotDir    string
	storageConfig  storage.Config
	eventsURL      string
	dispatcher     events.Dispatcher
	eventBatchSize int
	evaluator      evaluator.Evaluator
	telemetry      telemetry.Provider
	logger         *slog.Logger
}

var _ sdk.Starter = (*Starter)(nil)

// NewStarter creates a starter with the given options
func NewStarter(opts ...Option) *Starter {
	s := &Starter{
		cdnConfig:     cdn.DefaultConfig(),
		storageConfig: storage.DefaultConfig(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.NewNoOp()
	}
	if s.evaluator == nil {
		s.evaluator = evaluator.New()
	}

	return s
}

// Start builds a client for cfg and blocks until it has a configuration
func (s *Starter) Start(ctx context.Context, cfg sdk.Config) (sdk.Client, error) {
	if cfg.SDKKey == "" && len(cfg.Datafile) == 0 {
		return nil, fmt.Errorf("sdk key or datafile is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = sdk.DatafilePollInterval
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = sdk.EventDispatchInterval
	}

	logger := s.logger.With("component", "engine")

	mem, err := storage.NewMemoryStorage(s.storageConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create project storage: %w", err)
	}

	cacheOpts := []cache.Option{
		cache.WithSDKKey(cfg.SDKKey),
		cache.WithStorage(mem),
		cache.WithTelemetry(s.telemetry),
		cache.WithLogger(logger),
		cache.WithRefreshInterval(cfg.PollInterval),
	}

	if len(cfg.Datafile) > 0 {
		cacheOpts = append(cacheOpts, cache.WithDatafile(cfg.Datafile))
	}

	if cfg.SDKKey != "" {
		cacheOpts = append(cacheOpts, cache.WithFetcher(s.datafileFetcher(logger)))
	}

	if s.snapshotDir != "" {
		disk, err := storage.NewDiskStorage(s.snapshotDir)
		if err != nil {
			mem.Close()
			return nil, fmt.Errorf("failed to open snapshot dir: %w", err)
		}
		cacheOpts = append(cacheOpts, cache.WithSnapshots(disk))
	}

	manager, err := cache.New(cacheOpts...)
	if err != nil {
		mem.Close()
		return nil, err
	}

	if err := manager.Start(ctx); err != nil {
		manager.Stop()
		return nil, err
	}

	processor := events.NewProcessor(s.eventDispatcher(logger),
		events.WithFlushInterval(cfg.DispatchInterval),
		events.WithBatchSize(s.eventBatchSize),
		events.WithLogger(logger),
		events.WithTelemetry(s.telemetry),
	)

	client := &Client{
		sdkKey:    cfg.SDKKey,
		cache:     manager,
		evaluator: s.evaluator,
		processor: processor,
		telemetry: s.telemetry,
		logger:    logger,
	}

	if project, err := manager.Project(ctx); err == nil {
		client.revision.Store(project.Revision)
	}
	manager.OnUpdate(client.onUpdate)

	logger.Info("client started", "sdk_key", cfg.SDKKey, "static", len(cfg.Datafile) > 0)
	return client, nil
}

func (s *Starter) datafileFetcher(logger *slog.Logger) cdn.Fetcher {
	if s.fetcher != nil {
		return s.fetcher
	}

	cfg := s.cdnConfig
	cfg.HTTPClient = s.httpClient
	cfg.Logger = logger
	return cdn.NewHTTPFetcher(cfg)
}

func (s *Starter) eventDispatcher(logger *slog.Logger) events.Dispatcher {
	if s.dispatcher != nil {
		return s.dispatcher
	}
	if s.eventsURL == "" {
		return events.NewDiscardDispatcher(logger)
	}
	return events.NewHTTPDispatcher(s.eventsURL, s.httpClient, logger)
}
