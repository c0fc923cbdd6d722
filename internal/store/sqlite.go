// Package store provides flow persistence for secondself.
//
// This file implements the SQLite snapshot backend. The logical shape is the
// same single document as the file backend: one row per user, rewritten
// wholesale on every save.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "embed"

	"github.com/Macxim/secondself/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteSnapshotter persists the flow mapping into a local SQLite database.
type SQLiteSnapshotter struct {
	db *sql.DB
}

// NewSQLiteSnapshotter creates a SQLite snapshotter with the given DSN.
// The DSN is a file path; the containing directory is created if missing.
func NewSQLiteSnapshotter(opts ...Option) (*SQLiteSnapshotter, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteSnapshotter invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteSnapshotter DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteSnapshotter{db: db}, nil
}

// Load reads every flow record row. An empty table is a valid empty start.
func (s *SQLiteSnapshotter) Load() (map[string]models.FlowRecord, error) {
	rows, err := s.db.Query(`SELECT user_id, record FROM flow_snapshots`)
	if err != nil {
		slog.Error("SQLiteSnapshotter Load query failed", "error", err)
		return nil, fmt.Errorf("failed to query flow snapshots: %w", err)
	}
	defer rows.Close()

	flows := make(map[string]models.FlowRecord)
	for rows.Next() {
		var userID, recordJSON string
		if err := rows.Scan(&userID, &recordJSON); err != nil {
			slog.Error("SQLiteSnapshotter Load scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow snapshot row: %w", err)
		}
		var rec models.FlowRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			slog.Error("SQLiteSnapshotter Load unmarshal failed", "error", err, "userID", userID)
			return nil, fmt.Errorf("failed to parse flow record for %s: %w", userID, err)
		}
		flows[userID] = rec
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteSnapshotter Load rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate flow snapshot rows: %w", err)
	}
	slog.Debug("SQLiteSnapshotter Load succeeded", "count", len(flows))
	return flows, nil
}

// Save rewrites the full flow mapping in one transaction.
func (s *SQLiteSnapshotter) Save(flows map[string]models.FlowRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("SQLiteSnapshotter Save begin failed", "error", err)
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM flow_snapshots`); err != nil {
		slog.Error("SQLiteSnapshotter Save clear failed", "error", err)
		return fmt.Errorf("failed to clear flow snapshots: %w", err)
	}
	for userID, rec := range flows {
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			slog.Error("SQLiteSnapshotter Save marshal failed", "error", err, "userID", userID)
			return fmt.Errorf("failed to marshal flow record for %s: %w", userID, err)
		}
		if _, err := tx.Exec(`INSERT INTO flow_snapshots (user_id, record) VALUES (?, ?)`, userID, string(recordJSON)); err != nil {
			slog.Error("SQLiteSnapshotter Save insert failed", "error", err, "userID", userID)
			return fmt.Errorf("failed to insert flow record for %s: %w", userID, err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO snapshot_meta (key, value) VALUES ('version', ?)`, strconv.Itoa(models.SnapshotVersion)); err != nil {
		slog.Error("SQLiteSnapshotter Save version failed", "error", err)
		return fmt.Errorf("failed to record snapshot version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteSnapshotter Save commit failed", "error", err)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	slog.Debug("SQLiteSnapshotter Save succeeded", "count", len(flows))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteSnapshotter) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
