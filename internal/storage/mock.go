package storage

import (
	"context"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// MockStorage is a mock implementation of Storage for testing
type MockStorage struct {
	mu       sync.RWMutex
	projects map[string]*domain.Project

	// Mock behaviors
	GetFunc func(ctx context.Context, key string) (*domain.Project, error)
	SetFunc func(ctx context.Context, key string, project *domain.Project, ttl time.Duration) error

	// Call tracking
	GetCalls    int
	SetCalls    int
	DeleteCalls int
	CloseCalls  int
}

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		projects: make(map[string]*domain.Project),
	}
}

// Get retrieves a project by key
func (m *MockStorage) Get(ctx context.Context, key string) (*domain.Project, error) {
	m.mu.Lock()
	m.GetCalls++
	m.mu.Unlock()

	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	project, ok := m.projects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return project, nil
}

// Set stores a project
func (m *MockStorage) Set(ctx context.Context, key string, project *domain.Project, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SetCalls++

	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, project, ttl)
	}

	m.projects[key] = project
	return nil
}

// Delete removes a project
func (m *MockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls++
	delete(m.projects, key)
	return nil
}

// Clear removes all projects
func (m *MockStorage) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projects = make(map[string]*domain.Project)
	return nil
}

// List returns all keys
func (m *MockStorage) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.projects))
	for key := range m.projects {
		keys = append(keys, key)
	}
	return keys, nil
}

// Metrics returns storage metrics
func (m *MockStorage) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Metrics{KeysAdded: uint64(len(m.projects))}
}

// Close closes the storage
func (m *MockStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return nil
}
