// Package cdn downloads datafiles for an SDK key.
package cdn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultURLTemplate is formatted with the SDK key
const DefaultURLTemplate = "https://cdn.optimizely.com/datafiles/%s.json"

// Fetcher downloads the datafile for an SDK key
type Fetcher interface {
	// Fetch returns the datafile, or a NotModified result when etag still matches
	Fetch(ctx context.Context, sdkKey, etag string) (*Result, error)
}

// Result is the outcome of a datafile fetch
type Result struct {
	Datafile    []byte
	ETag        string
	NotModified bool
	FetchedAt   time.Time
}

// Config holds fetcher configuration
type Config struct {
	// URLTemplate is a fmt template receiving the SDK key
	URLTemplate string

	// AccessToken is sent as a bearer token for authenticated datafiles
	AccessToken string

	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// MaxSize bounds the datafile body
	MaxSize int64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultConfig returns the default fetcher configuration
func DefaultConfig() Config {
	return Config{
		URLTemplate:  DefaultURLTemplate,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
		MaxSize:      16 << 20,
	}
}

// HTTPError represents a non-2xx response
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying: network errors, 5xx and 429
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
