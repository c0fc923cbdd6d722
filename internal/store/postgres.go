// Package store provides flow persistence for secondself.
//
// This file implements the PostgreSQL snapshot backend.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "embed"

	"github.com/Macxim/secondself/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresSnapshotter persists the flow mapping into PostgreSQL.
type PostgresSnapshotter struct {
	db *sql.DB
}

// NewPostgresSnapshotter creates a Postgres snapshotter based on provided options.
func NewPostgresSnapshotter(opts ...Option) (*PostgresSnapshotter, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresSnapshotter invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresSnapshotter DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresSnapshotter{db: db}, nil
}

// Load reads every flow record row. An empty table is a valid empty start.
func (s *PostgresSnapshotter) Load() (map[string]models.FlowRecord, error) {
	rows, err := s.db.Query(`SELECT user_id, record FROM flow_snapshots`)
	if err != nil {
		slog.Error("PostgresSnapshotter Load query failed", "error", err)
		return nil, fmt.Errorf("failed to query flow snapshots: %w", err)
	}
	defer rows.Close()

	flows := make(map[string]models.FlowRecord)
	for rows.Next() {
		var userID, recordJSON string
		if err := rows.Scan(&userID, &recordJSON); err != nil {
			slog.Error("PostgresSnapshotter Load scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan flow snapshot row: %w", err)
		}
		var rec models.FlowRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			slog.Error("PostgresSnapshotter Load unmarshal failed", "error", err, "userID", userID)
			return nil, fmt.Errorf("failed to parse flow record for %s: %w", userID, err)
		}
		flows[userID] = rec
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresSnapshotter Load rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate flow snapshot rows: %w", err)
	}
	slog.Debug("PostgresSnapshotter Load succeeded", "count", len(flows))
	return flows, nil
}

// Save rewrites the full flow mapping in one transaction.
func (s *PostgresSnapshotter) Save(flows map[string]models.FlowRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("PostgresSnapshotter Save begin failed", "error", err)
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM flow_snapshots`); err != nil {
		slog.Error("PostgresSnapshotter Save clear failed", "error", err)
		return fmt.Errorf("failed to clear flow snapshots: %w", err)
	}
	for userID, rec := range flows {
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			slog.Error("PostgresSnapshotter Save marshal failed", "error", err, "userID", userID)
			return fmt.Errorf("failed to marshal flow record for %s: %w", userID, err)
		}
		if _, err := tx.Exec(`INSERT INTO flow_snapshots (user_id, record) VALUES ($1, $2)`, userID, string(recordJSON)); err != nil {
			slog.Error("PostgresSnapshotter Save insert failed", "error", err, "userID", userID)
			return fmt.Errorf("failed to insert flow record for %s: %w", userID, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO snapshot_meta (key, value) VALUES ('version', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, strconv.Itoa(models.SnapshotVersion)); err != nil {
		slog.Error("PostgresSnapshotter Save version failed", "error", err)
		return fmt.Errorf("failed to record snapshot version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresSnapshotter Save commit failed", "error", err)
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	slog.Debug("PostgresSnapshotter Save succeeded", "count", len(flows))
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresSnapshotter) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
