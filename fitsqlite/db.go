// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fitsqlite provides the SQLite-backed local store for fitsync.
//
// All collections share one _fit_records table. Each row carries the sync
// bookkeeping of its record; a CHECK constraint keeps state and pending
// operation consistent even if the table is written by other code.
package fitsqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a SQLite database prepared for fitsync stores. Stores created from
// the same DB share its write lock.
type DB struct {
	SQL     *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex // Serialize write operations to prevent SQLite locking issues
}

// Open opens (creating if needed) the SQLite database at path
func Open(path string, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases intact and matches SQLite's single writer.
	db.SetMaxOpenConns(1)

	d, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// New prepares an existing database handle
func New(db *sql.DB, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &DB{SQL: db, logger: logger}, nil
}

// Close closes the underlying database
func (d *DB) Close() error {
	return d.SQL.Close()
}

func initializeDatabase(db *sql.DB) error {
	// Enable WAL mode and foreign keys
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _fit_records (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT, -- insertion order
			collection TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			local_id   TEXT NOT NULL,
			remote_id  TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL,                     -- JSON encoded payload
			sync_state TEXT NOT NULL,
			pending_op TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 1,        -- bumped on every write
			UNIQUE (collection, local_id),
			CHECK ((sync_state = 'SYNCED' AND pending_op = 'NONE')
				OR (sync_state = 'PENDING' AND pending_op IN ('CREATE','UPDATE','DELETE'))),
			CHECK (pending_op <> 'DELETE' OR remote_id <> '')
		)`,
		`CREATE INDEX IF NOT EXISTS _fit_records_by_state
			ON _fit_records (collection, user_id, sync_state)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create sync table: %w", err)
		}
	}
	return nil
}
