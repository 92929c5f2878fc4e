// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package fitsync implements local-first synchronization of user records
// between an on-device store and a per-user partitioned document store.
//
// Records are written locally first and tagged pending. A Coordinator later
// replays every pending operation against the remote store and reconciles the
// local row. Remote failures never block local writes; they leave the record
// pending for the next pass.
package fitsync

import (
	"fmt"
	"time"
)

// SyncState describes whether a local record matches its remote document
type SyncState string

const (
	StateSynced  SyncState = "SYNCED"
	StatePending SyncState = "PENDING"
)

// PendingOp is the remote operation a pending record still needs applied
type PendingOp string

const (
	OpNone   PendingOp = "NONE"
	OpCreate PendingOp = "CREATE"
	OpUpdate PendingOp = "UPDATE"
	OpDelete PendingOp = "DELETE"
)

func (op PendingOp) IsValid() bool {
	switch op {
	case OpNone, OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// Record is a locally stored entity together with its sync bookkeeping
type Record[T any] struct {
	LocalID   string    // Locally generated, never reused
	RemoteID  string    // Empty until the first successful create
	UserID    string    // Owning user (remote partition)
	Payload   T         // Entity fields, opaque to the protocol
	State     SyncState // SYNCED or PENDING
	Op        PendingOp // NONE when SYNCED
	UpdatedAt time.Time // Last local mutation, informational only
	Version   int64     // Write counter maintained by the store
}

// NewPending returns a fresh record queued for remote creation. LocalID is
// left for the store to assign.
func NewPending[T any](userID string, payload T, now time.Time) Record[T] {
	return Record[T]{
		UserID:    userID,
		Payload:   payload,
		State:     StatePending,
		Op:        OpCreate,
		UpdatedAt: now,
	}
}

// Validate checks the state/op pairing every stored record must satisfy
func (r Record[T]) Validate() error {
	if r.LocalID == "" {
		return fmt.Errorf("%w: empty local id", ErrInvalidRecord)
	}
	switch r.State {
	case StateSynced:
		if r.Op != OpNone {
			return fmt.Errorf("%w: %s record %s has pending op %s", ErrInvalidRecord, r.State, r.LocalID, r.Op)
		}
	case StatePending:
		switch r.Op {
		case OpCreate, OpUpdate, OpDelete:
		default:
			return fmt.Errorf("%w: %s record %s has op %q", ErrInvalidRecord, r.State, r.LocalID, r.Op)
		}
		if r.Op == OpDelete && r.RemoteID == "" {
			return fmt.Errorf("%w: pending delete of %s without remote id", ErrInvalidRecord, r.LocalID)
		}
	default:
		return fmt.Errorf("%w: record %s has state %q", ErrInvalidRecord, r.LocalID, r.State)
	}
	return nil
}

// IsPending reports whether the record still needs a remote operation
func (r Record[T]) IsPending() bool {
	return r.State == StatePending
}

// Edited returns the record with a new payload queued for upload.
//
// A record that was never created remotely keeps its CREATE intent; only a
// record with a remote id is downgraded to UPDATE.
func (r Record[T]) Edited(payload T, now time.Time) (Record[T], error) {
	if r.State == StatePending && r.Op == OpDelete {
		return r, fmt.Errorf("%w: %s", ErrPendingDelete, r.LocalID)
	}
	r.Payload = payload
	r.State = StatePending
	r.UpdatedAt = now
	if r.RemoteID == "" {
		r.Op = OpCreate
	} else {
		r.Op = OpUpdate
	}
	return r, nil
}

// Synced returns the record marked as matching its remote document.
// remoteID is stamped only when the record has none yet.
func (r Record[T]) Synced(remoteID string) Record[T] {
	if r.RemoteID == "" {
		r.RemoteID = remoteID
	}
	r.State = StateSynced
	r.Op = OpNone
	return r
}
