// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"

	"github.com/google/uuid"
)

// LocalStore is the on-device durable table for one entity type.
// Every call is scoped to a user; errors are local and fatal to the caller.
type LocalStore[T any] interface {
	// Insert assigns a fresh local id and stores the payload as PENDING/CREATE
	Insert(ctx context.Context, userID string, payload T) (Record[T], error)

	// Update replaces the row identified by rec.LocalID. A remote id already
	// stored is kept when rec.RemoteID is empty.
	Update(ctx context.Context, rec Record[T]) error

	// MarkSynced clears the pending state of a row still at version and
	// reports true. A row written since then only gets remoteID stamped, if it
	// has none, and stays pending. ErrNotFound when the row is gone.
	MarkSynced(ctx context.Context, userID, localID, remoteID string, version int64) (bool, error)

	// MarkPendingDelete purges a never-synced row, otherwise queues it as PENDING/DELETE
	MarkPendingDelete(ctx context.Context, userID, localID string) error

	// Delete removes the row outright
	Delete(ctx context.Context, userID, localID string) error

	// Import stores a payload that already exists remotely as SYNCED
	Import(ctx context.Context, userID, remoteID string, payload T) (Record[T], error)

	Get(ctx context.Context, userID, localID string) (Record[T], error)
	ListPending(ctx context.Context, userID string) ([]Record[T], error)
	ListAll(ctx context.Context, userID string) ([]Record[T], error)

	// Observe streams snapshots of all rows until ctx is done. The first
	// snapshot is delivered immediately.
	Observe(ctx context.Context, userID string) (<-chan []Record[T], error)
}

// RemoteStore is one per-user partitioned document collection
type RemoteStore interface {
	// Create stores doc under a new server-chosen id. Calling it twice
	// creates two documents.
	Create(ctx context.Context, userID string, doc Document) (string, error)

	// Put stores doc under remoteID, replacing any existing document
	Put(ctx context.Context, userID, remoteID string, doc Document) error

	// Update replaces an existing document; ErrNotFound when absent
	Update(ctx context.Context, userID, remoteID string, doc Document) error

	// Delete removes a document; ErrNotFound when absent
	Delete(ctx context.Context, userID, remoteID string) error

	Get(ctx context.Context, userID, remoteID string) (Document, error)
	List(ctx context.Context, userID string) ([]RemoteDocument, error)
}

// Backend resolves collections of a document database
type Backend interface {
	Collection(name string) RemoteStore
}

// Adapter converts payloads to and from remote documents
type Adapter[T any] interface {
	ToDocument(payload T) (Document, error)
	FromDocument(doc Document) (T, error)
}

// Validator is implemented by payloads that can check their own fields
type Validator interface {
	Validate() error
}

// UserFunc returns the signed-in user, or false when nobody is signed in
type UserFunc func(ctx context.Context) (userID string, ok bool)

// StaticUser returns a UserFunc that always reports userID (signed out when empty)
func StaticUser(userID string) UserFunc {
	return func(context.Context) (string, bool) {
		return userID, userID != ""
	}
}

var remoteIDNamespace = uuid.MustParse("6f1c7f3e-1d1b-4a52-9d0e-2a8b0c6f4d11")

// RemoteIDFor derives the remote document id for a local record. The id is
// stable for a (collection, localID) pair, so replaying a create after a
// crash overwrites the same document instead of adding a second one.
func RemoteIDFor(collection, localID string) string {
	return uuid.NewSHA1(remoteIDNamespace, []byte(collection+"/"+localID)).String()
}
