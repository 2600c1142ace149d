package cache

import (
	"log/slog"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/cdn"
	"github.com/OrlandoBitencourt/flagbridge/internal/storage"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// Option configures the datafile manager
type Option func(*Cache)

// WithSDKKey sets the SDK key the datafile is fetched and stored under
func WithSDKKey(sdkKey string) Option {
	return func(c *Cache) { c.sdkKey = sdkKey }
}

// WithDatafile starts from a static datafile instead of fetching
func WithDatafile(datafile []byte) Option {
	return func(c *Cache) { c.datafile = datafile }
}

// WithFetcher sets the remote datafile fetcher
func WithFetcher(f cdn.Fetcher) Option {
	return func(c *Cache) { c.fetcher = f }
}

// WithStorage sets the in-memory project storage
func WithStorage(s storage.Storage) Option {
	return func(c *Cache) { c.storage = s }
}

// WithSnapshots enables disk snapshots used when the initial fetch fails
func WithSnapshots(d *storage.DiskStorage) Option {
	return func(c *Cache) { c.snapshots = d }
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(p telemetry.Provider) Option {
	return func(c *Cache) { c.telemetry = p }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(c *Cache) { c.config = cfg }
}

// WithRefreshInterval sets the polling interval; 0 disables polling
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Cache) { c.config.RefreshInterval = d }
}

// WithInitialTimeout bounds the first fetch in Start
func WithInitialTimeout(d time.Duration) Option {
	return func(c *Cache) { c.config.InitialTimeout = d }
}

// WithCircuitBreaker configures the fetch circuit breaker
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *Cache) {
		c.config.CircuitBreakerThreshold = threshold
		c.config.CircuitBreakerTimeout = timeout
	}
}
