package cdn

import (
	"context"
	"sync"
	"time"
)

// MockFetcher is a mock implementation of Fetcher for testing
type MockFetcher struct {
	mu sync.Mutex

	datafile []byte
	etag     string

	// Mock behaviors
	FetchFunc func(ctx context.Context, sdkKey, etag string) (*Result, error)

	// Call tracking
	FetchCalls int
	LastSDKKey string
}

// NewMockFetcher creates a mock serving datafile with etag
func NewMockFetcher(datafile []byte, etag string) *MockFetcher {
	return &MockFetcher{datafile: datafile, etag: etag}
}

// SetDatafile replaces the served datafile
func (m *MockFetcher) SetDatafile(datafile []byte, etag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datafile = datafile
	m.etag = etag
}

// Calls returns the number of Fetch calls
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FetchCalls
}

// Fetch returns the configured datafile
func (m *MockFetcher) Fetch(ctx context.Context, sdkKey, etag string) (*Result, error) {
	m.mu.Lock()
	m.FetchCalls++
	m.LastSDKKey = sdkKey
	fn := m.FetchFunc
	datafile, current := m.datafile, m.etag
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, sdkKey, etag)
	}

	if etag != "" && etag == current {
		return &Result{ETag: etag, NotModified: true, FetchedAt: time.Now()}, nil
	}

	return &Result{Datafile: datafile, ETag: current, FetchedAt: time.Now()}, nil
}
