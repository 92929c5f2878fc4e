// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fitpg stores fitsync documents in PostgreSQL.
//
// Every collection lives in the single fitsync.documents table, partitioned
// by user id. Payloads are kept as jsonb.
package fitpg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// Config tunes the Postgres document store
type Config struct {
	MaxRetries   int           // Attempts after the first for retryable SQLSTATEs
	RetryBackoff time.Duration // Multiplied by the attempt number
	SkipMigrate  bool          // Do not create the schema on startup
}

// DefaultConfig returns the store defaults
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// Store is a fitsync.Backend over a pgx pool
type Store struct {
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger
}

var _ fitsync.Backend = (*Store)(nil)

// NewStore creates the store and, unless disabled, its schema
func NewStore(ctx context.Context, pool *pgxpool.Pool, config *Config, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{pool: pool, config: config, logger: logger}
	if !config.SkipMigrate {
		if err := s.initializeSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return s, nil
}

func (s *Store) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		migrations := []string{
			/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS fitsync`,
			/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS fitsync.documents (
				user_id    TEXT        NOT NULL,
				collection TEXT        NOT NULL,
				doc_id     TEXT        NOT NULL,
				payload    JSONB       NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (user_id, collection, doc_id)
			)`,
			`CREATE INDEX IF NOT EXISTS documents_user_updated_idx ON fitsync.documents(user_id, collection, updated_at)`,
		}
		for _, m := range migrations {
			if _, err := tx.Exec(ctx, m); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
		}
		return nil
	})
}

// Collection returns the document collection name
func (s *Store) Collection(name string) fitsync.RemoteStore {
	return &Collection{store: s, name: name, logger: s.logger.With("collection", name)}
}

// Collection is one named document collection
type Collection struct {
	store  *Store
	name   string
	logger *slog.Logger
}

func (c *Collection) Create(ctx context.Context, userID string, doc fitsync.Document) (string, error) {
	payload, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	err = c.store.withRetry(ctx, "create", func() error {
		_, e := c.store.pool.Exec(ctx, `
			INSERT INTO fitsync.documents (user_id, collection, doc_id, payload)
			VALUES (@user_id, @collection, @doc_id, @payload::jsonb)`,
			pgx.NamedArgs{"user_id": userID, "collection": c.name, "doc_id": id, "payload": payload})
		return e
	})
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	return id, nil
}

func (c *Collection) Put(ctx context.Context, userID, remoteID string, doc fitsync.Document) error {
	payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	err = c.store.withRetry(ctx, "put", func() error {
		_, e := c.store.pool.Exec(ctx, `
			INSERT INTO fitsync.documents (user_id, collection, doc_id, payload)
			VALUES (@user_id, @collection, @doc_id, @payload::jsonb)
			ON CONFLICT (user_id, collection, doc_id)
			DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()`,
			pgx.NamedArgs{"user_id": userID, "collection": c.name, "doc_id": remoteID, "payload": payload})
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to put document %s: %w", remoteID, err)
	}
	return nil
}

func (c *Collection) Update(ctx context.Context, userID, remoteID string, doc fitsync.Document) error {
	payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	var affected int64
	err = c.store.withRetry(ctx, "update", func() error {
		tag, e := c.store.pool.Exec(ctx, `
			UPDATE fitsync.documents SET payload = @payload::jsonb, updated_at = now()
			WHERE user_id = @user_id AND collection = @collection AND doc_id = @doc_id`,
			pgx.NamedArgs{"user_id": userID, "collection": c.name, "doc_id": remoteID, "payload": payload})
		affected = tag.RowsAffected()
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", remoteID, err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", remoteID, fitsync.ErrNotFound)
	}
	return nil
}

func (c *Collection) Delete(ctx context.Context, userID, remoteID string) error {
	var affected int64
	err := c.store.withRetry(ctx, "delete", func() error {
		tag, e := c.store.pool.Exec(ctx, `
			DELETE FROM fitsync.documents
			WHERE user_id = @user_id AND collection = @collection AND doc_id = @doc_id`,
			pgx.NamedArgs{"user_id": userID, "collection": c.name, "doc_id": remoteID})
		affected = tag.RowsAffected()
		return e
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", remoteID, err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", remoteID, fitsync.ErrNotFound)
	}
	return nil
}

func (c *Collection) Get(ctx context.Context, userID, remoteID string) (fitsync.Document, error) {
	var raw []byte
	err := c.store.pool.QueryRow(ctx, `
		SELECT payload FROM fitsync.documents
		WHERE user_id = @user_id AND collection = @collection AND doc_id = @doc_id`,
		pgx.NamedArgs{"user_id": userID, "collection": c.name, "doc_id": remoteID}).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", remoteID, fitsync.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", remoteID, err)
	}
	return decodeDocument(raw)
}

func (c *Collection) List(ctx context.Context, userID string) ([]fitsync.RemoteDocument, error) {
	rows, err := c.store.pool.Query(ctx, `
		SELECT doc_id, payload FROM fitsync.documents
		WHERE user_id = @user_id AND collection = @collection
		ORDER BY doc_id`,
		pgx.NamedArgs{"user_id": userID, "collection": c.name})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	out := []fitsync.RemoteDocument{}
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		out = append(out, fitsync.RemoteDocument{ID: id, Document: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return out, nil
}

func encodeDocument(doc fitsync.Document) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(raw), nil
}

// decodeDocument keeps numbers as json.Number so integers stay exact
func decodeDocument(raw []byte) (fitsync.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc fitsync.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
