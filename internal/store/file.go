// Package store provides flow persistence for secondself.
//
// This file implements the JSON file snapshot backend.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Macxim/secondself/internal/models"
)

// Constants for file snapshot configuration
const (
	// DefaultDirPermissions defines the default permissions for snapshot directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the default permissions for snapshot files
	DefaultFilePermissions = 0644
)

// FileSnapshotter persists the flow mapping as a single JSON document on disk.
type FileSnapshotter struct {
	path string
}

// NewFileSnapshotter creates a file snapshotter for the configured path.
func NewFileSnapshotter(opts ...Option) (*FileSnapshotter, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Path == "" {
		slog.Error("FileSnapshotter path not set")
		return nil, fmt.Errorf("snapshot path not set")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create snapshot directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	slog.Debug("FileSnapshotter created", "path", cfg.Path)
	return &FileSnapshotter{path: cfg.Path}, nil
}

// Load reads the snapshot document. A missing file starts empty; any other
// read or parse failure is reported loudly rather than silently discarded.
func (f *FileSnapshotter) Load() (map[string]models.FlowRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("FileSnapshotter no existing snapshot, starting fresh", "path", f.path)
			return make(map[string]models.FlowRecord), nil
		}
		slog.Error("FileSnapshotter read failed", "error", err, "path", f.path)
		return nil, fmt.Errorf("failed to read snapshot %s: %w", f.path, err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Error("FileSnapshotter parse failed", "error", err, "path", f.path)
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", f.path, err)
	}
	if snap.Flows == nil {
		snap.Flows = make(map[string]models.FlowRecord)
	}
	slog.Debug("FileSnapshotter loaded", "path", f.path, "count", len(snap.Flows), "version", snap.Version)
	return snap.Flows, nil
}

// Save writes the full flow mapping as one JSON document.
func (f *FileSnapshotter) Save(flows map[string]models.FlowRecord) error {
	snap := models.Snapshot{Version: models.SnapshotVersion, Flows: flows}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		slog.Error("FileSnapshotter marshal failed", "error", err)
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write to a temp file and rename so a crash mid-write cannot corrupt
	// the only durable copy.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		slog.Error("FileSnapshotter write failed", "error", err, "path", tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		slog.Error("FileSnapshotter rename failed", "error", err, "path", f.path)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	slog.Debug("FileSnapshotter saved", "path", f.path, "count", len(flows))
	return nil
}

// Close is a no-op for the file snapshotter.
func (f *FileSnapshotter) Close() error { return nil }
