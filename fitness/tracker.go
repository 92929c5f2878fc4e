// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alestar328/TraiScore-sub000/fitsqlite"
	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// TrackerConfig holds configuration for a Tracker
type TrackerConfig struct {
	CreateMode      fitsync.CreateMode
	Runner          *fitsync.RunnerConfig        // nil means fitsync.DefaultRunnerConfig
	StageMetrics    fitsync.StageMetricsRecorder // Optional
	LogStageTimings bool
}

// DefaultTrackerConfig returns the tracker defaults
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		CreateMode: fitsync.ClientIDs,
		Runner:     fitsync.DefaultRunnerConfig(),
	}
}

// Entry is a record of any collection with its payload as JSON
type Entry struct {
	Collection string            `json:"collection"`
	LocalID    string            `json:"local_id"`
	RemoteID   string            `json:"remote_id,omitempty"`
	State      fitsync.SyncState `json:"state"`
	Op         fitsync.PendingOp `json:"op"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Payload    json.RawMessage   `json:"payload"`
}

// CollectionStatus summarizes one collection for a user
type CollectionStatus struct {
	Collection string `json:"collection"`
	Total      int    `json:"total"`
	Pending    int    `json:"pending"`
}

// Tracker wires the fitness collections to one local database and one
// document backend. Every mutation triggers a background sync pass; run the
// loop with Run.
type Tracker struct {
	Exercises  *fitsync.Repository[Exercise]
	Workouts   *fitsync.Repository[Workout]
	BodyStats  *fitsync.Repository[BodyStats]
	LabResults *fitsync.Repository[LabResult]

	runner      *fitsync.Runner
	collections map[string]collection
	logger      *slog.Logger
}

// collection gives name-keyed JSON access to one typed collection
type collection interface {
	syncer() fitsync.Syncer
	setOnChange(fn func())
	add(ctx context.Context, userID string, payload json.RawMessage) (Entry, error)
	edit(ctx context.Context, userID, localID string, patch json.RawMessage) (Entry, error)
	remove(ctx context.Context, userID, localID string) error
	get(ctx context.Context, userID, localID string) (Entry, error)
	list(ctx context.Context, userID string) ([]Entry, error)
	status(ctx context.Context, userID string) (CollectionStatus, error)
}

// NewTracker creates the local stores in db and a coordinator per
// collection against backend. users reports the signed-in user for
// background passes.
func NewTracker(db *fitsqlite.DB, backend fitsync.Backend, users fitsync.UserFunc, config *TrackerConfig, logger *slog.Logger) (*Tracker, error) {
	if db == nil || backend == nil {
		return nil, fmt.Errorf("database and backend are required")
	}
	if config == nil {
		config = DefaultTrackerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{collections: make(map[string]collection), logger: logger}
	var err error
	if t.Exercises, err = register[Exercise](t, db, backend, CollectionExercises, config); err != nil {
		return nil, err
	}
	if t.Workouts, err = register[Workout](t, db, backend, CollectionWorkouts, config); err != nil {
		return nil, err
	}
	if t.BodyStats, err = register[BodyStats](t, db, backend, CollectionBodyStats, config); err != nil {
		return nil, err
	}
	if t.LabResults, err = register[LabResult](t, db, backend, CollectionLabResults, config); err != nil {
		return nil, err
	}

	syncers := make([]fitsync.Syncer, 0, len(t.collections))
	for _, name := range Collections() {
		syncers = append(syncers, t.collections[name].syncer())
	}
	t.runner = fitsync.NewRunner(users, syncers, config.Runner, logger)
	for _, name := range Collections() {
		t.collections[name].setOnChange(t.runner.Trigger)
	}
	return t, nil
}

func register[T any](t *Tracker, db *fitsqlite.DB, backend fitsync.Backend, name string, config *TrackerConfig) (*fitsync.Repository[T], error) {
	store, err := fitsqlite.NewStore[T](db, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}
	coord, err := fitsync.NewCoordinator[T](store, backend.Collection(name), JSONAdapter[T]{}, &fitsync.Config{
		Collection:      name,
		CreateMode:      config.CreateMode,
		StageMetrics:    config.StageMetrics,
		LogStageTimings: config.LogStageTimings,
	}, t.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s coordinator: %w", name, err)
	}
	repo := fitsync.NewRepository[T](store, nil)
	t.collections[name] = &typedCollection[T]{name: name, repo: repo, coord: coord}
	return repo, nil
}

// Runner returns the background sync runner
func (t *Tracker) Runner() *fitsync.Runner {
	return t.runner
}

// Run executes background sync passes until ctx is done
func (t *Tracker) Run(ctx context.Context) error {
	return t.runner.Run(ctx)
}

// SyncNow runs one pass over every collection and waits for it
func (t *Tracker) SyncNow(ctx context.Context) ([]*fitsync.Report, error) {
	return t.runner.SyncNow(ctx)
}

// Pull imports documents created on other devices
func (t *Tracker) Pull(ctx context.Context) (int, error) {
	return t.runner.HydrateNow(ctx)
}

func (t *Tracker) lookup(name string) (collection, error) {
	c, ok := t.collections[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", name)
	}
	return c, nil
}

// Add stores a new entry decoded from JSON
func (t *Tracker) Add(ctx context.Context, userID, name string, payload json.RawMessage) (Entry, error) {
	c, err := t.lookup(name)
	if err != nil {
		return Entry{}, err
	}
	return c.add(ctx, userID, payload)
}

// Edit merges the JSON fields of patch into an existing entry
func (t *Tracker) Edit(ctx context.Context, userID, name, localID string, patch json.RawMessage) (Entry, error) {
	c, err := t.lookup(name)
	if err != nil {
		return Entry{}, err
	}
	return c.edit(ctx, userID, localID, patch)
}

// Remove deletes an entry
func (t *Tracker) Remove(ctx context.Context, userID, name, localID string) error {
	c, err := t.lookup(name)
	if err != nil {
		return err
	}
	return c.remove(ctx, userID, localID)
}

// Get returns one entry
func (t *Tracker) Get(ctx context.Context, userID, name, localID string) (Entry, error) {
	c, err := t.lookup(name)
	if err != nil {
		return Entry{}, err
	}
	return c.get(ctx, userID, localID)
}

// List returns the visible entries of a collection
func (t *Tracker) List(ctx context.Context, userID, name string) ([]Entry, error) {
	c, err := t.lookup(name)
	if err != nil {
		return nil, err
	}
	return c.list(ctx, userID)
}

// Status returns per-collection counts, in Collections order
func (t *Tracker) Status(ctx context.Context, userID string) ([]CollectionStatus, error) {
	out := make([]CollectionStatus, 0, len(t.collections))
	for _, name := range Collections() {
		st, err := t.collections[name].status(ctx, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

type typedCollection[T any] struct {
	name  string
	repo  *fitsync.Repository[T]
	coord *fitsync.Coordinator[T]
}

func (c *typedCollection[T]) syncer() fitsync.Syncer { return c.coord }

func (c *typedCollection[T]) setOnChange(fn func()) { c.repo.SetOnChange(fn) }

func (c *typedCollection[T]) add(ctx context.Context, userID string, payload json.RawMessage) (Entry, error) {
	var v T
	if err := decodeStrict(payload, &v); err != nil {
		return Entry{}, err
	}
	rec, err := c.repo.Add(ctx, userID, v)
	if err != nil {
		return Entry{}, err
	}
	return c.entry(rec)
}

func (c *typedCollection[T]) edit(ctx context.Context, userID, localID string, patch json.RawMessage) (Entry, error) {
	rec, err := c.repo.Get(ctx, userID, localID)
	if err != nil {
		return Entry{}, err
	}
	// Decoding into the current payload leaves absent fields untouched
	v := rec.Payload
	if err := decodeStrict(patch, &v); err != nil {
		return Entry{}, err
	}
	rec, err = c.repo.Edit(ctx, userID, localID, v)
	if err != nil {
		return Entry{}, err
	}
	return c.entry(rec)
}

func (c *typedCollection[T]) remove(ctx context.Context, userID, localID string) error {
	return c.repo.Remove(ctx, userID, localID)
}

func (c *typedCollection[T]) get(ctx context.Context, userID, localID string) (Entry, error) {
	rec, err := c.repo.Get(ctx, userID, localID)
	if err != nil {
		return Entry{}, err
	}
	return c.entry(rec)
}

func (c *typedCollection[T]) list(ctx context.Context, userID string) ([]Entry, error) {
	recs, err := c.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := c.entry(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *typedCollection[T]) status(ctx context.Context, userID string) (CollectionStatus, error) {
	recs, err := c.repo.List(ctx, userID)
	if err != nil {
		return CollectionStatus{}, err
	}
	pending, err := c.repo.PendingCount(ctx, userID)
	if err != nil {
		return CollectionStatus{}, err
	}
	return CollectionStatus{Collection: c.name, Total: len(recs), Pending: pending}, nil
}

func (c *typedCollection[T]) entry(rec fitsync.Record[T]) (Entry, error) {
	raw, err := json.Marshal(rec.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode %s payload: %w", c.name, err)
	}
	return Entry{
		Collection: c.name,
		LocalID:    rec.LocalID,
		RemoteID:   rec.RemoteID,
		State:      rec.State,
		Op:         rec.Op,
		UpdatedAt:  rec.UpdatedAt,
		Payload:    raw,
	}, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
