// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"
)

// CreateMode selects how pending creates obtain their remote id
type CreateMode int

const (
	// ClientIDs derives the remote id from the local id and upserts, so a
	// replayed create never duplicates a document
	ClientIDs CreateMode = iota

	// ServerIDs lets the remote store assign ids with a blind create
	ServerIDs
)

func (m CreateMode) String() string {
	switch m {
	case ClientIDs:
		return "client"
	case ServerIDs:
		return "server"
	default:
		return fmt.Sprintf("CreateMode(%d)", int(m))
	}
}

// ParseCreateMode parses "client" or "server"
func ParseCreateMode(s string) (CreateMode, error) {
	switch s {
	case "", "client":
		return ClientIDs, nil
	case "server":
		return ServerIDs, nil
	default:
		return 0, fmt.Errorf("unknown create mode %q", s)
	}
}

// Config holds configuration for a Coordinator
type Config struct {
	Collection      string               // Remote collection name (e.g., "exercises")
	CreateMode      CreateMode           // ClientIDs unless the backend must choose ids
	StageMetrics    StageMetricsRecorder // Optional stage timing sink
	LogStageTimings bool                 // Log stage timings at debug level
}

// DefaultConfig returns a configuration for the given collection
func DefaultConfig(collection string) *Config {
	return &Config{
		Collection: collection,
		CreateMode: ClientIDs,
	}
}

// Report summarizes one sync pass
type Report struct {
	Collection string
	UserID     string
	Skipped    bool // No signed-in user, nothing was attempted

	Created    int
	Updated    int
	Deleted    int
	Recreated  int // Updates whose remote document was missing and was put back
	Superseded int // Written locally during the remote call, still pending
	Unresolved int // Pending updates without a remote id
	Failed     int // Records left pending because of a remote error

	errs error
}

// Err returns the remote errors of the pass combined, or nil
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	return r.errs
}

// Processed returns how many records reached a terminal state
func (r *Report) Processed() int {
	return r.Created + r.Updated + r.Deleted
}

// Coordinator replays pending local records of one entity type against a
// remote collection. Passes are serialized; at most one runs at a time.
type Coordinator[T any] struct {
	local   LocalStore[T]
	remote  RemoteStore
	adapter Adapter[T]
	config  *Config
	logger  *slog.Logger
	obs     *stageObserver

	mu sync.Mutex
}

// NewCoordinator creates a coordinator for one collection
func NewCoordinator[T any](local LocalStore[T], remote RemoteStore, adapter Adapter[T], config *Config, logger *slog.Logger) (*Coordinator[T], error) {
	if local == nil || remote == nil || adapter == nil {
		return nil, errors.New("local store, remote store and adapter are required")
	}
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if config.Collection == "" {
		return nil, errors.New("config.Collection must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("collection", config.Collection)

	return &Coordinator[T]{
		local:   local,
		remote:  remote,
		adapter: adapter,
		config:  config,
		logger:  logger,
		obs: &stageObserver{
			collection: config.Collection,
			recorder:   config.StageMetrics,
			logTimings: config.LogStageTimings,
			logger:     logger,
		},
	}, nil
}

// Collection returns the remote collection name
func (c *Coordinator[T]) Collection() string {
	return c.config.Collection
}

// SyncOnce runs one pass over the user's pending records.
//
// Remote failures are isolated per record: they are logged, counted in the
// report and leave the record pending. Local store failures abort the pass
// and are returned. A pass without a signed-in user is a no-op.
func (c *Coordinator[T]) SyncOnce(ctx context.Context, userID string) (report *Report, err error) {
	report = &Report{Collection: c.config.Collection, UserID: userID}
	if userID == "" {
		report.Skipped = true
		return report, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	passStart := c.obs.start()
	defer func() {
		c.obs.observe(ctx, MetricsOpSync, MetricsStageTotal, passStart, report.Processed(), err != nil || report.Failed > 0)
	}()

	listStart := c.obs.start()
	pending, err := c.local.ListPending(ctx, userID)
	c.obs.observe(ctx, MetricsOpSync, MetricsStageListPending, listStart, len(pending), err != nil)
	if err != nil {
		return report, fmt.Errorf("failed to list pending records: %w", err)
	}

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := c.syncRecord(ctx, report, rec); err != nil {
			return report, err
		}
	}

	if report.Failed > 0 {
		c.logger.Warn("Sync pass left records pending",
			"user_id", userID,
			"failed", report.Failed,
			"processed", report.Processed())
	} else if len(pending) > 0 {
		c.logger.Debug("Sync pass complete",
			"user_id", userID,
			"created", report.Created,
			"updated", report.Updated,
			"deleted", report.Deleted)
	}
	return report, nil
}

// syncRecord applies one pending record. Only local failures are returned.
func (c *Coordinator[T]) syncRecord(ctx context.Context, report *Report, rec Record[T]) error {
	switch rec.Op {
	case OpCreate:
		return c.syncCreate(ctx, report, rec)
	case OpUpdate:
		return c.syncUpdate(ctx, report, rec)
	case OpDelete:
		return c.syncDelete(ctx, report, rec)
	default:
		c.logger.Error("Pending record has no operation", "local_id", rec.LocalID, "op", rec.Op)
		report.Unresolved++
		return nil
	}
}

func (c *Coordinator[T]) syncCreate(ctx context.Context, report *Report, rec Record[T]) error {
	doc, err := c.adapter.ToDocument(rec.Payload)
	if err != nil {
		c.recordFailure(report, rec, fmt.Errorf("encode payload: %w", err))
		return nil
	}

	start := c.obs.start()
	remoteID := rec.RemoteID
	switch {
	case remoteID != "":
		// Already has an identity; rewrite it in place.
		err = c.remote.Put(ctx, rec.UserID, remoteID, doc)
	case c.config.CreateMode == ServerIDs:
		remoteID, err = c.remote.Create(ctx, rec.UserID, doc)
	default:
		remoteID = RemoteIDFor(c.config.Collection, rec.LocalID)
		err = c.remote.Put(ctx, rec.UserID, remoteID, doc)
	}
	c.obs.observe(ctx, MetricsOpSync, MetricsStageCreate, start, 1, err != nil)
	if err != nil {
		c.recordFailure(report, rec, fmt.Errorf("remote create: %w", err))
		return nil
	}

	synced, err := c.local.MarkSynced(ctx, rec.UserID, rec.LocalID, remoteID, rec.Version)
	if errors.Is(err, ErrNotFound) {
		// Removed before it ever had a remote id, so no delete was queued.
		c.discardCreated(ctx, report, rec, remoteID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s synced after create: %w", rec.LocalID, err)
	}
	report.Created++
	if !synced {
		c.supersede(report, rec, remoteID)
	}
	return nil
}

// discardCreated deletes a document whose local record vanished while it was
// being created
func (c *Coordinator[T]) discardCreated(ctx context.Context, report *Report, rec Record[T], remoteID string) {
	start := c.obs.start()
	err := c.remote.Delete(ctx, rec.UserID, remoteID)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	c.obs.observe(ctx, MetricsOpSync, MetricsStageDelete, start, 1, err != nil)
	if err != nil {
		c.logger.Error("Failed to delete document of a record removed during create",
			"local_id", rec.LocalID,
			"remote_id", remoteID,
			"error", err)
		report.errs = multierr.Append(report.errs, fmt.Errorf("discard %s: %w", rec.LocalID, err))
		return
	}
	c.logger.Info("Record removed during create, deleted its document",
		"local_id", rec.LocalID,
		"remote_id", remoteID)
	report.Deleted++
}

func (c *Coordinator[T]) supersede(report *Report, rec Record[T], remoteID string) {
	c.logger.Debug("Record changed during sync, leaving pending",
		"local_id", rec.LocalID,
		"remote_id", remoteID,
		"op", rec.Op)
	report.Superseded++
}

func (c *Coordinator[T]) syncUpdate(ctx context.Context, report *Report, rec Record[T]) error {
	if rec.RemoteID == "" {
		c.logger.Error("Pending update without remote id", "local_id", rec.LocalID)
		report.Unresolved++
		return nil
	}
	doc, err := c.adapter.ToDocument(rec.Payload)
	if err != nil {
		c.recordFailure(report, rec, fmt.Errorf("encode payload: %w", err))
		return nil
	}

	start := c.obs.start()
	err = c.remote.Update(ctx, rec.UserID, rec.RemoteID, doc)
	if errors.Is(err, ErrNotFound) {
		// The document vanished remotely; restore it under the same id.
		c.logger.Warn("Remote document missing on update, recreating", "local_id", rec.LocalID, "remote_id", rec.RemoteID)
		err = c.remote.Put(ctx, rec.UserID, rec.RemoteID, doc)
		if err == nil {
			report.Recreated++
		}
	}
	c.obs.observe(ctx, MetricsOpSync, MetricsStageUpdate, start, 1, err != nil)
	if err != nil {
		c.recordFailure(report, rec, fmt.Errorf("remote update: %w", err))
		return nil
	}

	synced, err := c.local.MarkSynced(ctx, rec.UserID, rec.LocalID, rec.RemoteID, rec.Version)
	if errors.Is(err, ErrNotFound) {
		c.logger.Warn("Record vanished locally after update", "local_id", rec.LocalID, "remote_id", rec.RemoteID)
		report.Updated++
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark %s synced after update: %w", rec.LocalID, err)
	}
	report.Updated++
	if !synced {
		c.supersede(report, rec, rec.RemoteID)
	}
	return nil
}

func (c *Coordinator[T]) syncDelete(ctx context.Context, report *Report, rec Record[T]) error {
	if rec.RemoteID != "" {
		start := c.obs.start()
		err := c.remote.Delete(ctx, rec.UserID, rec.RemoteID)
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		c.obs.observe(ctx, MetricsOpSync, MetricsStageDelete, start, 1, err != nil)
		if err != nil {
			c.recordFailure(report, rec, fmt.Errorf("remote delete: %w", err))
			return nil
		}
	}

	if err := c.local.Delete(ctx, rec.UserID, rec.LocalID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete %s after remote delete: %w", rec.LocalID, err)
	}
	report.Deleted++
	return nil
}

func (c *Coordinator[T]) recordFailure(report *Report, rec Record[T], err error) {
	c.logger.Warn("Record sync failed, leaving pending",
		"local_id", rec.LocalID,
		"remote_id", rec.RemoteID,
		"op", rec.Op,
		"error", err)
	report.Failed++
	report.errs = multierr.Append(report.errs, fmt.Errorf("%s %s: %w", rec.Op, rec.LocalID, err))
}

// Hydrate imports remote documents that are unknown locally as SYNCED rows.
// It is used to recover a user's data on a fresh install.
func (c *Coordinator[T]) Hydrate(ctx context.Context, userID string) (imported int, err error) {
	if userID == "" {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.obs.start()
	defer func() {
		c.obs.observe(ctx, MetricsOpHydrate, MetricsStageTotal, start, imported, err != nil)
	}()

	listStart := c.obs.start()
	docs, err := c.remote.List(ctx, userID)
	c.obs.observe(ctx, MetricsOpHydrate, MetricsStageListRemote, listStart, len(docs), err != nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list remote documents: %w", err)
	}

	locals, err := c.local.ListAll(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list local records: %w", err)
	}
	known := make(map[string]bool, len(locals))
	for _, rec := range locals {
		if rec.RemoteID != "" {
			known[rec.RemoteID] = true
		} else {
			// A create may have reached the remote store before the local
			// row was marked synced.
			known[RemoteIDFor(c.config.Collection, rec.LocalID)] = true
		}
	}

	for _, rd := range docs {
		if known[rd.ID] {
			continue
		}
		payload, err := c.adapter.FromDocument(rd.Document)
		if err != nil {
			c.logger.Warn("Skipping undecodable remote document", "remote_id", rd.ID, "error", err)
			continue
		}
		if _, err := c.local.Import(ctx, userID, rd.ID, payload); err != nil {
			return imported, fmt.Errorf("failed to import remote document %s: %w", rd.ID, err)
		}
		imported++
	}

	if imported > 0 {
		c.logger.Info("Hydrated records from remote", "user_id", userID, "imported", imported)
	}
	return imported, nil
}
