package engine

import (
	"log/slog"
	"net/http"

	"github.com/OrlandoBitencourt/flagbridge/internal/cdn"
	"github.com/OrlandoBitencourt/flagbridge/internal/evaluator"
	"github.com/OrlandoBitencourt/flagbridge/internal/events"
	"github.com/OrlandoBitencourt/flagbridge/internal/storage"
	"github.com/OrlandoBitencourt/flagbridge/internal/telemetry"
)

// Option configures a Starter
type Option func(*Starter)

// WithFetcher replaces the HTTP datafile fetcher
func WithFetcher(f cdn.Fetcher) Option {
	return func(s *Starter) { s.fetcher = f }
}

// WithDatafileURLTemplate sets the URL template the default fetcher formats with the SDK key
func WithDatafileURLTemplate(template string) Option {
	return func(s *Starter) { s.cdnConfig.URLTemplate = template }
}

// WithDatafileAccessToken sets the bearer token for authenticated datafiles
func WithDatafileAccessToken(token string) Option {
	return func(s *Starter) { s.cdnConfig.AccessToken = token }
}

// WithHTTPClient sets the HTTP client used for datafile fetches and event dispatch
func WithHTTPClient(c *http.Client) Option {
	return func(s *Starter) { s.httpClient = c }
}

// WithSnapshotDir enables disk snapshots of the last good datafile
func WithSnapshotDir(dir string) Option {
	return func(s *Starter) { s.snapshotDir = dir }
}

// WithStorageConfig sets the in-memory project storage configuration
func WithStorageConfig(cfg storage.Config) Option {
	return func(s *Starter) { s.storageConfig = cfg }
}

// WithEventsURL sets the endpoint batches are posted to; empty discards events
func WithEventsURL(url string) Option {
	return func(s *Starter) { s.eventsURL = url }
}

// WithDispatcher replaces the event dispatcher
func WithDispatcher(d events.Dispatcher) Option {
	return func(s *Starter) { s.dispatcher = d }
}

// WithEventBatchSize sets how many events are sent per batch
func WithEventBatchSize(n int) Option {
	return func(s *Starter) { s.eventBatchSize = n }
}

// WithEvaluator replaces the local evaluator
func WithEvaluator(e evaluator.Evaluator) Option {
	return func(s *Starter) { s.evaluator = e }
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(t telemetry.Provider) Option {
	return func(s *Starter) { s.telemetry = t }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Starter) { s.logger = l }
}
