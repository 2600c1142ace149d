package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
	"github.com/dgraph-io/ristretto"
)

// MemoryStorage wraps Ristretto for parsed project storage
type MemoryStorage struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration

	keysAdded   atomic.Uint64
	keysUpdated atomic.Uint64
	keysDeleted atomic.Uint64
	keysEvicted atomic.Uint64
	setsDropped atomic.Uint64
	getsKept    atomic.Uint64
	getsDropped atomic.Uint64
}

// NewMemoryStorage creates a new memory storage
func NewMemoryStorage(cfg Config) (*MemoryStorage, error) {
	m := &MemoryStorage{defaultTTL: cfg.DefaultTTL}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.MetricsEnabled,
		OnEvict: func(item *ristretto.Item) {
			m.keysEvicted.Add(1)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	m.cache = cache
	return m, nil
}

// Get retrieves a project by key
func (m *MemoryStorage) Get(ctx context.Context, key string) (*domain.Project, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	value, found := m.cache.Get(key)
	if !found {
		m.getsDropped.Add(1)
		return nil, ErrNotFound
	}

	project, ok := value.(*domain.Project)
	if !ok {
		m.getsDropped.Add(1)
		return nil, ErrNotFound
	}

	m.getsKept.Add(1)
	return project, nil
}

// Set stores a project; a zero ttl falls back to the configured default
func (m *MemoryStorage) Set(ctx context.Context, key string, project *domain.Project, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if project == nil {
		return errors.New("cannot store nil project")
	}

	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	_, exists := m.cache.Get(key)

	cost := int64(len(project.Datafile)) + 1
	if !m.cache.SetWithTTL(key, project, cost, ttl) {
		m.setsDropped.Add(1)
		return fmt.Errorf("project %s dropped by cache", key)
	}

	// Ristretto applies writes asynchronously
	m.cache.Wait()

	if exists {
		m.keysUpdated.Add(1)
	} else {
		m.keysAdded.Add(1)
	}

	return nil
}

// Delete removes a project
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.cache.Del(key)
	m.keysDeleted.Add(1)
	return nil
}

// Clear removes all projects
func (m *MemoryStorage) Clear(ctx context.Context) error {
	m.cache.Clear()
	return nil
}

// List is not supported by ristretto
func (m *MemoryStorage) List(ctx context.Context) ([]string, error) {
	return nil, errors.New("list not supported by memory storage")
}

// Metrics returns storage metrics
func (m *MemoryStorage) Metrics() Metrics {
	out := Metrics{
		KeysAdded:   m.keysAdded.Load(),
		KeysUpdated: m.keysUpdated.Load(),
		KeysDeleted: m.keysDeleted.Load(),
		KeysEvicted: m.keysEvicted.Load(),
		SetsDropped: m.setsDropped.Load(),
		GetsKept:    m.getsKept.Load(),
		GetsDropped: m.getsDropped.Load(),
	}

	if rm := m.cache.Metrics; rm != nil {
		out.CostAdded = rm.CostAdded()
		out.CostEvicted = rm.CostEvicted()
		out.SetsRejected = rm.SetsRejected()
		out.HitRatio = rm.Ratio()
	}

	return out
}

// Close closes the storage
func (m *MemoryStorage) Close() error {
	m.cache.Close()
	return nil
}
