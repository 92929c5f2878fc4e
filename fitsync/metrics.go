// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"log/slog"
	"time"
)

const (
	MetricsOpSync    = "sync"
	MetricsOpHydrate = "hydrate"

	MetricsStageTotal       = "total"
	MetricsStageListPending = "list_pending"
	MetricsStageCreate      = "create"
	MetricsStageUpdate      = "update"
	MetricsStageDelete      = "delete"
	MetricsStageListRemote  = "list_remote"
)

type StageTiming struct {
	Collection string
	Operation  string
	Stage      string
	Duration   time.Duration
	Count      int
	Error      bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageObserver carries timing settings shared by coordinators
type stageObserver struct {
	collection string
	recorder   StageMetricsRecorder
	logTimings bool
	logger     *slog.Logger
}

func (o *stageObserver) enabled() bool {
	return o.recorder != nil || o.logTimings
}

func (o *stageObserver) start() time.Time {
	if !o.enabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o *stageObserver) observe(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}

	timing := StageTiming{
		Collection: o.collection,
		Operation:  op,
		Stage:      stage,
		Duration:   time.Since(start),
		Count:      count,
		Error:      hadError,
	}

	if o.recorder != nil {
		o.recorder.ObserveStage(ctx, timing)
	}
	if o.logTimings && o.logger != nil {
		o.logger.Debug("Stage timing",
			"collection", timing.Collection,
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
