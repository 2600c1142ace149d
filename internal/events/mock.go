package events

import (
	"context"
	"sync"
)

// MockDispatcher records batches for tests
type MockDispatcher struct {
	mu      sync.Mutex
	batches []Batch

	DispatchFunc func(ctx context.Context, batch Batch) error
}

// NewMockDispatcher creates a recording dispatcher
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

// Dispatch records the batch
func (m *MockDispatcher) Dispatch(ctx context.Context, batch Batch) error {
	if m.DispatchFunc != nil {
		if err := m.DispatchFunc(ctx, batch); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return nil
}

// Batches returns the recorded batches
func (m *MockDispatcher) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Batch(nil), m.batches...)
}

// Events returns every recorded event in dispatch order
func (m *MockDispatcher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, b := range m.batches {
		out = append(out, b.Events...)
	}
	return out
}
