// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"fmt"
	"time"
)

// Repository is the mutation path used by the application. Every write lands
// in the local store and returns without waiting for the network; OnChange
// is then called so a sync pass can be scheduled.
type Repository[T any] struct {
	local    LocalStore[T]
	onChange func()
	now      func() time.Time
}

// NewRepository wraps a local store. onChange may be nil.
func NewRepository[T any](local LocalStore[T], onChange func()) *Repository[T] {
	return &Repository[T]{
		local:    local,
		onChange: onChange,
		now:      time.Now,
	}
}

// SetOnChange replaces the mutation hook
func (r *Repository[T]) SetOnChange(fn func()) {
	r.onChange = fn
}

func (r *Repository[T]) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func validatePayload(payload any) error {
	if v, ok := payload.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	return nil
}

// Add stores a new record queued for creation
func (r *Repository[T]) Add(ctx context.Context, userID string, payload T) (Record[T], error) {
	if err := validatePayload(payload); err != nil {
		return Record[T]{}, err
	}
	rec, err := r.local.Insert(ctx, userID, payload)
	if err != nil {
		return Record[T]{}, err
	}
	r.changed()
	return rec, nil
}

// Edit replaces the payload of an existing record and queues the change
func (r *Repository[T]) Edit(ctx context.Context, userID, localID string, payload T) (Record[T], error) {
	if err := validatePayload(payload); err != nil {
		return Record[T]{}, err
	}
	rec, err := r.local.Get(ctx, userID, localID)
	if err != nil {
		return Record[T]{}, err
	}
	rec, err = rec.Edited(payload, r.now())
	if err != nil {
		return Record[T]{}, err
	}
	if err := r.local.Update(ctx, rec); err != nil {
		return Record[T]{}, err
	}
	r.changed()
	return rec, nil
}

// Remove deletes a record locally and queues the remote deletion if the
// record was ever synced
func (r *Repository[T]) Remove(ctx context.Context, userID, localID string) error {
	if err := r.local.MarkPendingDelete(ctx, userID, localID); err != nil {
		return err
	}
	r.changed()
	return nil
}

func (r *Repository[T]) Get(ctx context.Context, userID, localID string) (Record[T], error) {
	return r.local.Get(ctx, userID, localID)
}

// List returns the user's visible records, hiding those pending deletion
func (r *Repository[T]) List(ctx context.Context, userID string) ([]Record[T], error) {
	all, err := r.local.ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	return visible(all), nil
}

// Observe streams visible records until ctx is done
func (r *Repository[T]) Observe(ctx context.Context, userID string) (<-chan []Record[T], error) {
	src, err := r.local.Observe(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(chan []Record[T], 1)
	go func() {
		defer close(out)
		for snapshot := range src {
			select {
			case out <- visible(snapshot):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PendingCount returns how many records still await a remote operation
func (r *Repository[T]) PendingCount(ctx context.Context, userID string) (int, error) {
	pending, err := r.local.ListPending(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

func visible[T any](recs []Record[T]) []Record[T] {
	out := make([]Record[T], 0, len(recs))
	for _, rec := range recs {
		if rec.State == StatePending && rec.Op == OpDelete {
			continue
		}
		out = append(out, rec)
	}
	return out
}
