package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// maxResponseBodySize limits how much of an error response body is kept
const maxResponseBodySize = 1024

// Dispatcher sends a batch to the event endpoint
type Dispatcher interface {
	Dispatch(ctx context.Context, batch Batch) error
}

// HTTPDispatcher posts batches as JSON
type HTTPDispatcher struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewHTTPDispatcher creates a dispatcher posting to url
func NewHTTPDispatcher(url string, client *http.Client, logger *slog.Logger) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPDispatcher{
		url:        url,
		client:     client,
		maxRetries: 2,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Dispatch posts the batch, retrying on 5xx and network errors
func (d *HTTPDispatcher) Dispatch(ctx context.Context, batch Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal event batch: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * d.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retry, err := d.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retry {
			break
		}

		d.logger.Debug("event dispatch failed", "url", d.url, "attempt", attempt+1, "error", err)
	}

	return lastErr
}

func (d *HTTPDispatcher) post(ctx context.Context, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ClientName)

	resp, err := d.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, fmt.Errorf("event endpoint returned HTTP %d: %s", resp.StatusCode, string(body))
}

// DiscardDispatcher drops batches; used when no endpoint is configured
type DiscardDispatcher struct {
	discarded atomic.Int64
	logger    *slog.Logger
}

// NewDiscardDispatcher creates a dispatcher that only counts events
func NewDiscardDispatcher(logger *slog.Logger) *DiscardDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscardDispatcher{logger: logger}
}

// Dispatch drops the batch
func (d *DiscardDispatcher) Dispatch(ctx context.Context, batch Batch) error {
	d.discarded.Add(int64(len(batch.Events)))
	d.logger.Debug("event batch discarded", "events", len(batch.Events))
	return nil
}

// Discarded returns the number of dropped events
func (d *DiscardDispatcher) Discarded() int64 {
	return d.discarded.Load()
}
