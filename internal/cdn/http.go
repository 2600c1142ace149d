package cdn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPFetcher implements Fetcher over HTTP with retries
type HTTPFetcher struct {
	urlTemplate  string
	accessToken  string
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	maxSize      int64
	logger       *slog.Logger
}

// NewHTTPFetcher creates a new datafile fetcher
func NewHTTPFetcher(config Config) *HTTPFetcher {
	defaults := DefaultConfig()
	if config.URLTemplate == "" {
		config.URLTemplate = defaults.URLTemplate
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPFetcher{
		urlTemplate:  config.URLTemplate,
		accessToken:  config.AccessToken,
		httpClient:   httpClient,
		maxRetries:   config.MaxRetries,
		retryBackoff: config.RetryBackoff,
		maxSize:      config.MaxSize,
		logger:       logger,
	}
}

// URL returns the datafile URL for an SDK key
func (f *HTTPFetcher) URL(sdkKey string) string {
	return fmt.Sprintf(f.urlTemplate, sdkKey)
}

// Fetch downloads the datafile, retrying transient failures
func (f *HTTPFetcher) Fetch(ctx context.Context, sdkKey, etag string) (*Result, error) {
	url := f.URL(sdkKey)
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff
			backoff := time.Duration(attempt) * f.retryBackoff
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := f.fetchOnce(ctx, url, etag)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !IsTransient(err) {
			return nil, lastErr
		}

		f.logger.Debug("datafile fetch failed", "url", url, "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// fetchOnce performs a single HTTP request
func (f *HTTPFetcher) fetchOnce(ctx context.Context, url, etag string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if f.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.accessToken)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Result{ETag: etag, NotModified: true, FetchedAt: time.Now()}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	if int64(len(body)) > f.maxSize {
		return nil, fmt.Errorf("datafile exceeds %d bytes", f.maxSize)
	}

	return &Result{
		Datafile:  body,
		ETag:      resp.Header.Get("ETag"),
		FetchedAt: time.Now(),
	}, nil
}
