// Package store provides flow persistence for secondself.
//
// The live flow set is held in memory and flushed to a durable snapshot on
// every mutation (write-through, no batching). Snapshot backends include a
// JSON file, SQLite, and PostgreSQL; all persist the same logical document:
// a single mapping from user id to flow record.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Macxim/secondself/internal/models"
)

// Snapshotter is the durable storage collaborator: it loads and saves the
// full flow mapping as one document. Load must treat "no existing data" as a
// valid empty start, distinct from a corrupt-data error.
type Snapshotter interface {
	Load() (map[string]models.FlowRecord, error)
	Save(flows map[string]models.FlowRecord) error
	Close() error
}

// Opts holds configuration options for snapshot backends.
type Opts struct {
	// Path is the JSON snapshot file path for the file backend.
	Path string
	// DSN is the database DSN for the SQLite or Postgres backends.
	DSN string
}

// Option defines a configuration option for snapshot backends.
type Option func(*Opts)

// WithSnapshotPath sets the JSON snapshot file path.
func WithSnapshotPath(path string) Option {
	return func(o *Opts) { o.Path = path }
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType determines whether a DSN refers to PostgreSQL or a local
// file. Anything that is not recognizably Postgres is treated as a file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") || strings.HasSuffix(dsn, ".sqlite3") {
		return "sqlite"
	}
	return "file"
}

// FlowStore is the in-memory flow set with write-through snapshots.
// In-memory state remains the source of truth for the process lifetime even
// when a persistence write fails; the next mutation attempts persistence again.
type FlowStore struct {
	mu    sync.RWMutex
	flows map[string]models.FlowRecord
	snap  Snapshotter
}

// NewFlowStore creates a FlowStore backed by the given snapshotter, loading
// the durable snapshot into memory. A missing snapshot starts the store empty.
func NewFlowStore(snap Snapshotter) (*FlowStore, error) {
	flows, err := snap.Load()
	if err != nil {
		slog.Error("FlowStore load failed", "error", err)
		return nil, fmt.Errorf("failed to load flow snapshot: %w", err)
	}
	if flows == nil {
		flows = make(map[string]models.FlowRecord)
	}
	slog.Info("FlowStore loaded", "count", len(flows))
	return &FlowStore{flows: flows, snap: snap}, nil
}

// Get returns the flow record for a user, if one exists.
func (s *FlowStore) Get(userID string) (models.FlowRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.flows[userID]
	if !ok {
		return models.FlowRecord{}, false
	}
	return rec.Clone(), true
}

// Put upserts the record for a user and persists the full set. The in-memory
// write always succeeds; a persistence failure is logged and returned.
func (s *FlowStore) Put(userID string, rec models.FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[userID] = rec.Clone()
	if err := s.persistLocked(); err != nil {
		slog.Error("FlowStore Put persistence failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("FlowStore Put succeeded", "userID", userID, "stage", rec.Stage)
	return nil
}

// All returns a snapshot of every flow record. Order is unspecified.
func (s *FlowStore) All() []models.FlowRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FlowRecord, 0, len(s.flows))
	for _, rec := range s.flows {
		out = append(out, rec.Clone())
	}
	return out
}

// Count returns the number of live flow records.
func (s *FlowStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

// Persist flushes the full in-memory set to durable storage.
func (s *FlowStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *FlowStore) persistLocked() error {
	if err := s.snap.Save(s.flows); err != nil {
		return fmt.Errorf("failed to save flow snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying snapshot backend.
func (s *FlowStore) Close() error {
	return s.snap.Close()
}

// MemorySnapshotter is a Snapshotter that keeps the saved document in memory.
// It is used for tests and for running without durable storage configured.
type MemorySnapshotter struct {
	mu    sync.Mutex
	saved map[string]models.FlowRecord
}

// NewMemorySnapshotter creates an empty in-memory snapshotter.
func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{}
}

// Load returns the last saved document, or an empty map.
func (m *MemorySnapshotter) Load() (map[string]models.FlowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.FlowRecord, len(m.saved))
	for k, v := range m.saved {
		out[k] = v.Clone()
	}
	return out, nil
}

// Save replaces the saved document.
func (m *MemorySnapshotter) Save(flows map[string]models.FlowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(map[string]models.FlowRecord, len(flows))
	for k, v := range flows {
		m.saved[k] = v.Clone()
	}
	return nil
}

// Close is a no-op for the in-memory snapshotter.
func (m *MemorySnapshotter) Close() error { return nil }
