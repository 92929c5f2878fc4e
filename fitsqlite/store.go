// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// Store is the SQLite LocalStore for payloads of type T in one collection.
// Payloads are stored as JSON, so T must round-trip through encoding/json.
type Store[T any] struct {
	db         *DB
	collection string
	logger     *slog.Logger
	now        func() time.Time

	obsMu     sync.Mutex
	observers map[int]*observer[T]
	nextObs   int
}

type observer[T any] struct {
	userID string
	ch     chan []fitsync.Record[T]
}

var _ fitsync.LocalStore[struct{}] = (*Store[struct{}])(nil)

// NewStore returns the store for collection
func NewStore[T any](db *DB, collection string) (*Store[T], error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	return &Store[T]{
		db:         db,
		collection: collection,
		logger:     db.logger.With("collection", collection),
		now:        time.Now,
		observers:  make(map[int]*observer[T]),
	}, nil
}

// Collection returns the collection name this store serves
func (s *Store[T]) Collection() string {
	return s.collection
}

const selectColumns = `local_id, remote_id, user_id, payload, sync_state, pending_op, updated_at, version`

func (s *Store[T]) Insert(ctx context.Context, userID string, payload T) (fitsync.Record[T], error) {
	rec := fitsync.NewPending(userID, payload, s.now().UTC())
	rec.LocalID = uuid.New().String()
	rec.Version = 1
	if err := s.insert(ctx, rec); err != nil {
		return fitsync.Record[T]{}, err
	}
	s.notify(ctx, userID)
	return rec, nil
}

func (s *Store[T]) Import(ctx context.Context, userID, remoteID string, payload T) (fitsync.Record[T], error) {
	rec := fitsync.Record[T]{
		LocalID:   uuid.New().String(),
		RemoteID:  remoteID,
		UserID:    userID,
		Payload:   payload,
		State:     fitsync.StateSynced,
		Op:        fitsync.OpNone,
		UpdatedAt: s.now().UTC(),
		Version:   1,
	}
	if err := s.insert(ctx, rec); err != nil {
		return fitsync.Record[T]{}, err
	}
	s.notify(ctx, userID)
	return rec, nil
}

func (s *Store[T]) insert(ctx context.Context, rec fitsync.Record[T]) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	_, err = s.db.SQL.ExecContext(ctx, `
		INSERT INTO _fit_records (collection, user_id, local_id, remote_id, payload, sync_state, pending_op, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.collection, rec.UserID, rec.LocalID, rec.RemoteID, string(payload),
		string(rec.State), string(rec.Op), formatTime(rec.UpdatedAt), rec.Version)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.LocalID, err)
	}
	return nil
}

func (s *Store[T]) Update(ctx context.Context, rec fitsync.Record[T]) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	s.db.writeMu.Lock()
	res, err := s.db.SQL.ExecContext(ctx, `
		UPDATE _fit_records
		SET remote_id = CASE WHEN ? = '' THEN remote_id ELSE ? END,
			payload = ?, sync_state = ?, pending_op = ?, updated_at = ?, version = version + 1
		WHERE collection = ? AND user_id = ? AND local_id = ?`,
		rec.RemoteID, rec.RemoteID, string(payload), string(rec.State), string(rec.Op), formatTime(rec.UpdatedAt),
		s.collection, rec.UserID, rec.LocalID)
	s.db.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to update record %s: %w", rec.LocalID, err)
	}
	if err := requireOneRow(res, rec.LocalID); err != nil {
		return err
	}
	s.notify(ctx, rec.UserID)
	return nil
}

func (s *Store[T]) MarkPendingDelete(ctx context.Context, userID, localID string) error {
	if err := s.markPendingDelete(ctx, userID, localID); err != nil {
		return err
	}
	s.notify(ctx, userID)
	return nil
}

func (s *Store[T]) markPendingDelete(ctx context.Context, userID, localID string) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var remoteID string
	err = tx.QueryRowContext(ctx, `
		SELECT remote_id FROM _fit_records
		WHERE collection = ? AND user_id = ? AND local_id = ?`,
		s.collection, userID, localID).Scan(&remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load record %s: %w", localID, err)
	}

	if remoteID == "" {
		// Never reached the server: nothing to tell it
		_, err = tx.ExecContext(ctx, `
			DELETE FROM _fit_records WHERE collection = ? AND user_id = ? AND local_id = ?`,
			s.collection, userID, localID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE _fit_records SET sync_state = ?, pending_op = ?, updated_at = ?, version = version + 1
			WHERE collection = ? AND user_id = ? AND local_id = ?`,
			string(fitsync.StatePending), string(fitsync.OpDelete), formatTime(s.now().UTC()),
			s.collection, userID, localID)
	}
	if err != nil {
		return fmt.Errorf("failed to mark record %s deleted: %w", localID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store[T]) MarkSynced(ctx context.Context, userID, localID, remoteID string, version int64) (bool, error) {
	synced, changed, err := s.markSynced(ctx, userID, localID, remoteID, version)
	if err != nil {
		return false, err
	}
	if changed {
		s.notify(ctx, userID)
	}
	return synced, nil
}

func (s *Store[T]) markSynced(ctx context.Context, userID, localID, remoteID string, version int64) (synced, changed bool, err error) {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		storedRemoteID string
		storedVersion  int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT remote_id, version FROM _fit_records
		WHERE collection = ? AND user_id = ? AND local_id = ?`,
		s.collection, userID, localID).Scan(&storedRemoteID, &storedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to load record %s: %w", localID, err)
	}

	if storedRemoteID == "" {
		storedRemoteID = remoteID
	}
	switch {
	case storedVersion == version:
		_, err = tx.ExecContext(ctx, `
			UPDATE _fit_records SET remote_id = ?, sync_state = ?, pending_op = ?, version = version + 1
			WHERE collection = ? AND user_id = ? AND local_id = ?`,
			storedRemoteID, string(fitsync.StateSynced), string(fitsync.OpNone),
			s.collection, userID, localID)
		synced, changed = true, true
	case storedRemoteID != "":
		// Written since the snapshot: keep it pending, only record the identity.
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			UPDATE _fit_records SET remote_id = ?
			WHERE collection = ? AND user_id = ? AND local_id = ? AND remote_id = ''`,
			storedRemoteID, s.collection, userID, localID)
		if err == nil {
			var n int64
			n, err = res.RowsAffected()
			changed = n > 0
		}
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to mark record %s synced: %w", localID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return synced, changed, nil
}

func (s *Store[T]) Delete(ctx context.Context, userID, localID string) error {
	s.db.writeMu.Lock()
	res, err := s.db.SQL.ExecContext(ctx, `
		DELETE FROM _fit_records WHERE collection = ? AND user_id = ? AND local_id = ?`,
		s.collection, userID, localID)
	s.db.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", localID, err)
	}
	if err := requireOneRow(res, localID); err != nil {
		return err
	}
	s.notify(ctx, userID)
	return nil
}

func (s *Store[T]) Get(ctx context.Context, userID, localID string) (fitsync.Record[T], error) {
	row := s.db.SQL.QueryRowContext(ctx, `
		SELECT `+selectColumns+` FROM _fit_records
		WHERE collection = ? AND user_id = ? AND local_id = ?`,
		s.collection, userID, localID)
	rec, err := scanRecord[T](row)
	if errors.Is(err, sql.ErrNoRows) {
		return fitsync.Record[T]{}, fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	return rec, err
}

func (s *Store[T]) ListPending(ctx context.Context, userID string) ([]fitsync.Record[T], error) {
	return s.list(ctx, `
		SELECT `+selectColumns+` FROM _fit_records
		WHERE collection = ? AND user_id = ? AND sync_state = ?
		ORDER BY seq`,
		s.collection, userID, string(fitsync.StatePending))
}

func (s *Store[T]) ListAll(ctx context.Context, userID string) ([]fitsync.Record[T], error) {
	return s.list(ctx, `
		SELECT `+selectColumns+` FROM _fit_records
		WHERE collection = ? AND user_id = ?
		ORDER BY seq`,
		s.collection, userID)
}

func (s *Store[T]) list(ctx context.Context, query string, args ...any) ([]fitsync.Record[T], error) {
	rows, err := s.db.SQL.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := []fitsync.Record[T]{}
	for rows.Next() {
		rec, err := scanRecord[T](rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return out, nil
}

// Observe delivers the current rows immediately and again after every write
// to this collection for userID. Unread snapshots are replaced by newer ones.
func (s *Store[T]) Observe(ctx context.Context, userID string) (<-chan []fitsync.Record[T], error) {
	snapshot, err := s.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	obs := &observer[T]{userID: userID, ch: make(chan []fitsync.Record[T], 1)}
	obs.ch <- snapshot
	s.observers[id] = obs
	s.obsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
		close(obs.ch)
	}()
	return obs.ch, nil
}

func (s *Store[T]) notify(ctx context.Context, userID string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	var snapshot []fitsync.Record[T]
	for _, obs := range s.observers {
		if obs.userID != userID {
			continue
		}
		if snapshot == nil {
			var err error
			snapshot, err = s.ListAll(context.WithoutCancel(ctx), userID)
			if err != nil {
				s.logger.Warn("failed to load snapshot for observers", "user_id", userID, "error", err)
				return
			}
		}
		select {
		case <-obs.ch:
		default:
		}
		obs.ch <- snapshot
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord[T any](row rowScanner) (fitsync.Record[T], error) {
	var (
		rec       fitsync.Record[T]
		payload   string
		state, op string
		updatedAt string
	)
	if err := row.Scan(&rec.LocalID, &rec.RemoteID, &rec.UserID, &payload, &state, &op, &updatedAt, &rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return rec, fmt.Errorf("failed to decode payload of record %s: %w", rec.LocalID, err)
	}
	rec.State = fitsync.SyncState(state)
	rec.Op = fitsync.PendingOp(op)
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return rec, fmt.Errorf("failed to parse updated_at of record %s: %w", rec.LocalID, err)
	}
	rec.UpdatedAt = t
	return rec, nil
}

func requireOneRow(res sql.Result, localID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
