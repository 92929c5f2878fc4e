// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package memstore provides in-memory implementations of the fitsync stores
// for tests and for running the document API without a database.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// Local is an in-memory fitsync.LocalStore
type Local[T any] struct {
	mu        sync.Mutex
	rows      map[string]fitsync.Record[T] // key: user + "/" + local id
	order     []string
	observers map[int]*observer[T]
	nextObs   int
	now       func() time.Time

	// FailWrites, when set, is returned by every write
	FailWrites error
}

type observer[T any] struct {
	userID string
	ch     chan []fitsync.Record[T]
}

// NewLocal creates an empty in-memory local store
func NewLocal[T any]() *Local[T] {
	return &Local[T]{
		rows:      make(map[string]fitsync.Record[T]),
		observers: make(map[int]*observer[T]),
		now:       time.Now,
	}
}

func rowKey(userID, localID string) string {
	return userID + "/" + localID
}

func (l *Local[T]) Insert(_ context.Context, userID string, payload T) (fitsync.Record[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrites != nil {
		return fitsync.Record[T]{}, l.FailWrites
	}

	rec := fitsync.NewPending(userID, payload, l.now())
	rec.LocalID = uuid.New().String()
	rec.Version = 1
	key := rowKey(userID, rec.LocalID)
	l.rows[key] = rec
	l.order = append(l.order, key)
	l.notifyLocked(userID)
	return rec, nil
}

func (l *Local[T]) Import(_ context.Context, userID, remoteID string, payload T) (fitsync.Record[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrites != nil {
		return fitsync.Record[T]{}, l.FailWrites
	}

	rec := fitsync.Record[T]{
		LocalID:   uuid.New().String(),
		RemoteID:  remoteID,
		UserID:    userID,
		Payload:   payload,
		State:     fitsync.StateSynced,
		Op:        fitsync.OpNone,
		UpdatedAt: l.now(),
		Version:   1,
	}
	key := rowKey(userID, rec.LocalID)
	l.rows[key] = rec
	l.order = append(l.order, key)
	l.notifyLocked(userID)
	return rec, nil
}

func (l *Local[T]) Update(_ context.Context, rec fitsync.Record[T]) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrites != nil {
		return l.FailWrites
	}

	key := rowKey(rec.UserID, rec.LocalID)
	stored, ok := l.rows[key]
	if !ok {
		return fmt.Errorf("record %s: %w", rec.LocalID, fitsync.ErrNotFound)
	}
	if rec.RemoteID == "" {
		rec.RemoteID = stored.RemoteID
	}
	rec.Version = stored.Version + 1
	l.rows[key] = rec
	l.notifyLocked(rec.UserID)
	return nil
}

func (l *Local[T]) MarkSynced(_ context.Context, userID, localID, remoteID string, version int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrites != nil {
		return false, l.FailWrites
	}

	key := rowKey(userID, localID)
	rec, ok := l.rows[key]
	if !ok {
		return false, fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	if rec.Version != version {
		if rec.RemoteID == "" && remoteID != "" {
			rec.RemoteID = remoteID
			l.rows[key] = rec
			l.notifyLocked(userID)
		}
		return false, nil
	}
	rec = rec.Synced(remoteID)
	rec.Version++
	l.rows[key] = rec
	l.notifyLocked(userID)
	return true, nil
}

func (l *Local[T]) MarkPendingDelete(_ context.Context, userID, localID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrites != nil {
		return l.FailWrites
	}

	key := rowKey(userID, localID)
	rec, ok := l.rows[key]
	if !ok {
		return fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	if rec.RemoteID == "" {
		l.deleteLocked(key)
	} else {
		rec.State = fitsync.StatePending
		rec.Op = fitsync.OpDelete
		rec.UpdatedAt = l.now()
		rec.Version++
		l.rows[key] = rec
	}
	l.notifyLocked(userID)
	return nil
}

func (l *Local[T]) Delete(_ context.Context, userID, localID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrites != nil {
		return l.FailWrites
	}

	key := rowKey(userID, localID)
	if _, ok := l.rows[key]; !ok {
		return fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	l.deleteLocked(key)
	l.notifyLocked(userID)
	return nil
}

func (l *Local[T]) deleteLocked(key string) {
	delete(l.rows, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *Local[T]) Get(_ context.Context, userID, localID string) (fitsync.Record[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rows[rowKey(userID, localID)]
	if !ok {
		return fitsync.Record[T]{}, fmt.Errorf("record %s: %w", localID, fitsync.ErrNotFound)
	}
	return rec, nil
}

func (l *Local[T]) ListPending(_ context.Context, userID string) ([]fitsync.Record[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []fitsync.Record[T]
	for _, rec := range l.listLocked(userID) {
		if rec.IsPending() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *Local[T]) ListAll(_ context.Context, userID string) ([]fitsync.Record[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listLocked(userID), nil
}

func (l *Local[T]) listLocked(userID string) []fitsync.Record[T] {
	out := []fitsync.Record[T]{}
	for _, key := range l.order {
		if rec := l.rows[key]; rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

func (l *Local[T]) Observe(ctx context.Context, userID string) (<-chan []fitsync.Record[T], error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextObs
	l.nextObs++
	obs := &observer[T]{userID: userID, ch: make(chan []fitsync.Record[T], 1)}
	l.observers[id] = obs
	obs.ch <- l.listLocked(userID)

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers, id)
		close(obs.ch)
	}()
	return obs.ch, nil
}

// notifyLocked replaces any unread snapshot with the latest one
func (l *Local[T]) notifyLocked(userID string) {
	for _, obs := range l.observers {
		if obs.userID != userID {
			continue
		}
		snapshot := l.listLocked(userID)
		select {
		case <-obs.ch:
		default:
		}
		obs.ch <- snapshot
	}
}
