package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/flagbridge/internal/datafile"
	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

const snapshotExt = ".snapshot.json"

// Snapshot is the on-disk copy of the last good datafile for an SDK key
type Snapshot struct {
	SDKKey   string          `json:"sdkKey"`
	Revision string          `json:"revision"`
	ETag     string          `json:"etag,omitempty"`
	SavedAt  time.Time       `json:"savedAt"`
	Datafile json.RawMessage `json:"datafile"`
}

// DiskStorage persists raw datafiles so a client can start without the network
type DiskStorage struct {
	dir     string
	metrics Metrics
	mu      sync.RWMutex
}

func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &DiskStorage{dir: dir}, nil
}

func (d *DiskStorage) filePath(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key)+snapshotExt)
}

// Get loads the snapshot for key and parses it
func (d *DiskStorage) Get(ctx context.Context, key string) (*domain.Project, error) {
	snap, err := d.LoadSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}

	project, err := datafile.Parse(snap.Datafile)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return project, nil
}

// Set writes the project's raw datafile; ttl is ignored on disk
func (d *DiskStorage) Set(ctx context.Context, key string, project *domain.Project, ttl time.Duration) error {
	if project == nil || len(project.Datafile) == 0 {
		return errors.New("project has no raw datafile")
	}

	return d.SaveSnapshot(ctx, Snapshot{
		SDKKey:   key,
		Revision: project.Revision,
		Datafile: project.Datafile,
	})
}

// SaveSnapshot writes a snapshot atomically
func (d *DiskStorage) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !json.Valid(snap.Datafile) {
		return errors.New("snapshot datafile is not valid JSON")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	file := d.filePath(snap.SDKKey)
	_, statErr := os.Stat(file)

	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		d.metrics.SetsDropped++
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		d.metrics.SetsDropped++
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	if os.IsNotExist(statErr) {
		d.metrics.KeysAdded++
	} else {
		d.metrics.KeysUpdated++
	}

	return nil
}

// LoadSnapshot reads the snapshot for key
func (d *DiskStorage) LoadSnapshot(ctx context.Context, key string) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			d.metrics.GetsDropped++
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	d.metrics.GetsKept++
	return &snap, nil
}

func (d *DiskStorage) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := os.Remove(d.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}

	d.metrics.KeysDeleted++
	return nil
}

func (d *DiskStorage) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), snapshotExt) {
			os.Remove(filepath.Join(d.dir, e.Name()))
		}
	}

	return nil
}

func (d *DiskStorage) List(ctx context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, snapshotExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (d *DiskStorage) Metrics() Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.metrics
}

func (d *DiskStorage) Close() error { return nil }
