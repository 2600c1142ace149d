// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// ErrNotFound is returned when no project is stored under a key
var ErrNotFound = errors.New("project not found")

// Storage defines the interface for project configuration storage, keyed by SDK key
type Storage interface {
	// Get retrieves a project by SDK key
	Get(ctx context.Context, key string) (*domain.Project, error)

	// Set stores a project with optional TTL
	Set(ctx context.Context, key string, project *domain.Project, ttl time.Duration) error

	// Delete removes a project
	Delete(ctx context.Context, key string) error

	// Clear removes all projects
	Clear(ctx context.Context) error

	// List returns all stored keys
	List(ctx context.Context) ([]string, error)

	// Metrics returns storage metrics
	Metrics() Metrics

	// Close closes the storage
	Close() error
}

// Metrics represents storage metrics
type Metrics struct {
	// Cache statistics
	KeysAdded   uint64
	KeysUpdated uint64
	KeysEvicted uint64
	KeysDeleted uint64

	// Memory statistics
	CostAdded   uint64
	CostEvicted uint64

	// Operation statistics
	SetsDropped  uint64
	SetsRejected uint64
	GetsKept     uint64
	GetsDropped  uint64

	// Performance metrics
	HitRatio float64
}

// Config holds storage configuration
type Config struct {
	// Memory limits
	MaxCost     int64 // Maximum cache size in bytes of raw datafile
	NumCounters int64 // Number of counters for admission policy
	BufferItems int64 // Number of keys per buffer

	// TTL
	DefaultTTL time.Duration

	// Metrics
	MetricsEnabled bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		MaxCost:        64 << 20, // 64MB
		NumCounters:    1e4,
		BufferItems:    64,
		DefaultTTL:     0, // projects stay until replaced
		MetricsEnabled: true,
	}
}
