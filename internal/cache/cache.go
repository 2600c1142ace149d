// Package cache manages the project configuration for one SDK key: initial load,
// background polling, forced syncs and disk snapshots.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/cdn"
	"github.com/OrlandoBitencourt/flagbridge/internal/circuit"
	"github.com/OrlandoBitencourt/flagbridge/internal/datafile"
	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
	"github.com/OrlandoBitencourt/flagbridge/internal/storage"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// ErrNotStarted is returned by Project before a configuration is loaded
var ErrNotStarted = errors.New("datafile manager not started")

// UpdateListener is notified with each new project revision
type UpdateListener func(project *domain.Project)

// Cache is the datafile manager that coordinates fetch, parse and storage
type Cache struct {
	// Dependencies (injected)
	sdkKey    string
	datafile  []byte
	fetcher   cdn.Fetcher
	storage   storage.Storage
	snapshots *storage.DiskStorage
	telemetry telemetry.Provider
	logger    *slog.Logger
	breaker   *circuit.Breaker

	// Configuration
	config Config

	// State management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Refresh state
	mu              sync.RWMutex
	current         *domain.Project
	etag            string
	lastRefresh     time.Time
	lastError       error
	refreshes       int64
	refreshFailures int64
	fromSnapshot    bool
	listeners       []UpdateListener
	started         bool
	stopped         bool
}

// New creates a new datafile manager with the given options
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.sdkKey == "" && len(c.datafile) == 0 {
		return nil, fmt.Errorf("sdk key or datafile is required")
	}
	if len(c.datafile) == 0 && c.fetcher == nil {
		return nil, fmt.Errorf("fetcher is required without a static datafile")
	}
	if c.storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	if err := c.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.telemetry == nil {
		c.telemetry = telemetry.NewNoOp()
	}

	c.logger = c.logger.With("sdk_key", c.sdkKey)
	c.breaker = circuit.New(circuit.Config{
		Name:        "datafile",
		MaxFailures: c.config.CircuitBreakerThreshold,
		Timeout:     c.config.CircuitBreakerTimeout,
		IsFailure:   cdn.IsTransient,
		Logger:      c.logger,
		OnStateChange: func(from, to circuit.State) {
			c.telemetry.RecordCircuitState(context.Background(), to.String())
		},
	})

	return c, nil
}

// Start loads the initial configuration and starts background polling.
// A static datafile is used as-is; otherwise the datafile is fetched and,
// if that fails, the last disk snapshot is used.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("datafile manager already started")
	}
	c.started = true
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(context.Background())

	if len(c.datafile) > 0 {
		project, err := datafile.Parse(c.datafile)
		if err != nil {
			c.cancel()
			return err
		}
		if err := c.apply(ctx, project, ""); err != nil {
			c.cancel()
			return err
		}
	} else {
		loadCtx, cancel := context.WithTimeout(ctx, c.config.InitialTimeout)
		err := c.refresh(loadCtx)
		cancel()

		if err != nil {
			if snapErr := c.loadSnapshot(ctx); snapErr != nil {
				c.cancel()
				return fmt.Errorf("initial datafile load failed: %w", err)
			}
			c.logger.Warn("initial datafile fetch failed, using snapshot", "error", err)
		}
	}

	if c.fetcher != nil && c.sdkKey != "" && c.config.RefreshInterval > 0 {
		c.wg.Add(1)
		go c.refreshLoop()
	}

	return nil
}

// Sync forces a datafile fetch
func (c *Cache) Sync(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if c.fetcher == nil || c.sdkKey == "" {
		return fmt.Errorf("datafile manager has no remote source")
	}

	return c.refresh(ctx)
}

// Stop stops polling, saves a snapshot and closes storage
func (c *Cache) Stop() error {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.stopped = true
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.saveSnapshot(context.Background())

	return c.storage.Close()
}

// Project returns the current project configuration
func (c *Cache) Project(ctx context.Context) (*domain.Project, error) {
	project, err := c.storage.Get(ctx, c.storageKey())
	if err == nil {
		return project, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// storage may evict or expire; the last applied revision stays authoritative
	if c.current != nil {
		return c.current, nil
	}
	return nil, ErrNotStarted
}

// OnUpdate registers a listener for new revisions
func (c *Cache) OnUpdate(listener UpdateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, listener)
}

// refreshLoop runs the periodic refresh in background
func (c *Cache) refreshLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.config.FetchTimeout)
			if err := c.refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn("datafile refresh failed", "error", err)
			}
			cancel()
		}
	}
}

// refresh fetches, parses and applies the datafile behind the circuit breaker
func (c *Cache) refresh(ctx context.Context) error {
	start := time.Now()

	c.mu.RLock()
	etag := c.etag
	c.mu.RUnlock()

	var revision string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		result, err := c.fetcher.Fetch(ctx, c.sdkKey, etag)
		if err != nil {
			return fmt.Errorf("failed to fetch datafile: %w", err)
		}

		if result.NotModified {
			c.logger.Debug("datafile not modified", "etag", etag)
			return nil
		}

		project, err := datafile.Parse(result.Datafile)
		if err != nil {
			return err
		}
		revision = project.Revision

		return c.apply(ctx, project, result.ETag)
	})

	c.telemetry.RecordRefresh(ctx, err == nil, time.Since(start), revision)

	c.mu.Lock()
	if err != nil {
		c.refreshFailures++
		c.lastError = err
	} else {
		c.refreshes++
		c.lastError = nil
		c.lastRefresh = time.Now()
	}
	c.mu.Unlock()

	return err
}

// apply stores a new project and notifies listeners when the revision changed
func (c *Cache) apply(ctx context.Context, project *domain.Project, etag string) error {
	if err := c.storage.Set(ctx, c.storageKey(), project, c.config.ProjectTTL); err != nil {
		c.logger.Warn("failed to store project in memory", "error", err)
	}

	c.mu.Lock()
	changed := c.current == nil || c.current.Revision != project.Revision
	c.current = project
	if etag != "" {
		c.etag = etag
	}
	c.fromSnapshot = false
	listeners := append([]UpdateListener(nil), c.listeners...)
	c.mu.Unlock()

	if changed {
		c.logger.Info("datafile updated", "revision", project.Revision)
		for _, l := range listeners {
			l(project)
		}
	}

	return nil
}

// loadSnapshot applies the last saved datafile
func (c *Cache) loadSnapshot(ctx context.Context) error {
	if c.snapshots == nil || c.sdkKey == "" {
		return fmt.Errorf("no snapshot storage")
	}

	snap, err := c.snapshots.LoadSnapshot(ctx, c.sdkKey)
	if err != nil {
		return err
	}

	project, err := datafile.Parse(snap.Datafile)
	if err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if err := c.apply(ctx, project, snap.ETag); err != nil {
		return err
	}

	c.mu.Lock()
	c.fromSnapshot = true
	c.mu.Unlock()
	return nil
}

// saveSnapshot persists the current datafile
func (c *Cache) saveSnapshot(ctx context.Context) {
	if c.snapshots == nil || c.sdkKey == "" {
		return
	}

	c.mu.RLock()
	project, etag := c.current, c.etag
	c.mu.RUnlock()

	if project == nil || len(project.Datafile) == 0 {
		return
	}

	err := c.snapshots.SaveSnapshot(ctx, storage.Snapshot{
		SDKKey:   c.sdkKey,
		Revision: project.Revision,
		ETag:     etag,
		Datafile: project.Datafile,
	})
	if err != nil {
		c.logger.Warn("failed to save datafile snapshot", "error", err)
	}
}

func (c *Cache) storageKey() string {
	if c.sdkKey == "" {
		return "static"
	}
	return c.sdkKey
}

// GetMetrics returns datafile manager metrics
func (c *Cache) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := Metrics{
		SDKKey:          c.sdkKey,
		Storage:         c.storage.Metrics(),
		Circuit:         c.breaker.Stats(),
		CircuitState:    c.breaker.State().String(),
		LastRefresh:     c.lastRefresh,
		Refreshes:       c.refreshes,
		RefreshFailures: c.refreshFailures,
		FromSnapshot:    c.fromSnapshot,
		ETag:            c.etag,
	}
	if c.current != nil {
		m.Revision = c.current.Revision
	}
	if c.lastError != nil {
		m.LastError = c.lastError.Error()
	}
	return m
}

// Metrics represents datafile manager metrics
type Metrics struct {
	SDKKey          string          `json:"sdk_key"`
	Revision        string          `json:"revision"`
	ETag            string          `json:"etag,omitempty"`
	LastRefresh     time.Time       `json:"last_refresh"`
	LastError       string          `json:"last_error,omitempty"`
	Refreshes       int64           `json:"refreshes"`
	RefreshFailures int64           `json:"refresh_failures"`
	FromSnapshot    bool            `json:"from_snapshot"`
	CircuitState    string          `json:"circuit_state"`
	Circuit         circuit.Stats   `json:"circuit"`
	Storage         storage.Metrics `json:"storage"`
}
