// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Syncer is one collection's sync entry point (implemented by Coordinator)
type Syncer interface {
	Collection() string
	SyncOnce(ctx context.Context, userID string) (*Report, error)
	Hydrate(ctx context.Context, userID string) (int, error)
}

// RunnerConfig holds configuration for the background runner
type RunnerConfig struct {
	Interval    time.Duration // Periodic retry pass; 0 disables the ticker
	PassTimeout time.Duration // Upper bound for one background pass; 0 = none
	BackoffMin  time.Duration // First retry delay after a pass with failures; 0 disables
	BackoffMax  time.Duration // Retry delay cap

	// OnPass is called after every background pass
	OnPass func(reports []*Report, err error)
}

// DefaultRunnerConfig returns a runner config with a daily retry pass
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		Interval:    24 * time.Hour,
		PassTimeout: 5 * time.Minute,
		BackoffMin:  1 * time.Second,
		BackoffMax:  60 * time.Second,
	}
}

// Runner schedules sync passes detached from the mutation paths: mutations
// call Trigger, and the loop started by Run executes at most one pass per
// burst of triggers, plus a periodic pass for records stuck pending.
type Runner struct {
	users   UserFunc
	syncers []Syncer
	config  *RunnerConfig
	logger  *slog.Logger
	trigger chan struct{}

	paused int32
}

// NewRunner creates a runner over the given syncers
func NewRunner(users UserFunc, syncers []Syncer, config *RunnerConfig, logger *slog.Logger) *Runner {
	if config == nil {
		config = DefaultRunnerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if users == nil {
		users = StaticUser("")
	}
	return &Runner{
		users:   users,
		syncers: syncers,
		config:  config,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Pause suspends background passes (SyncNow still runs)
func (r *Runner) Pause() { atomic.StoreInt32(&r.paused, 1) }

// Resume resumes background passes
func (r *Runner) Resume() { atomic.StoreInt32(&r.paused, 0) }

// Trigger requests a background pass without blocking. Triggers arriving
// while a pass is already queued are coalesced.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// SyncNow runs a pass over every collection for the signed-in user and
// waits for it. Remote failures are reported per collection; the returned
// error combines local failures only.
func (r *Runner) SyncNow(ctx context.Context) ([]*Report, error) {
	userID, ok := r.users(ctx)
	if !ok {
		r.logger.Debug("No signed-in user, skipping sync pass")
		return nil, nil
	}

	var errs error
	reports := make([]*Report, 0, len(r.syncers))
	for _, s := range r.syncers {
		if err := ctx.Err(); err != nil {
			return reports, multierr.Append(errs, err)
		}
		rep, err := s.SyncOnce(ctx, userID)
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			r.logger.Error("Sync pass failed", "collection", s.Collection(), "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return reports, errs
}

// HydrateNow imports remote documents unknown locally for every collection
func (r *Runner) HydrateNow(ctx context.Context) (int, error) {
	userID, ok := r.users(ctx)
	if !ok {
		return 0, nil
	}
	total := 0
	for _, s := range r.syncers {
		n, err := s.Hydrate(ctx, userID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Run executes background passes until ctx is done. A pass that leaves
// records pending because of remote failures schedules a retry with
// exponential backoff between BackoffMin and BackoffMax.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.config.Interval > 0 {
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var retry <-chan time.Time
	var retryTimer *time.Timer
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()
	backoff := r.config.BackoffMin

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
		case <-tick:
		case <-retry:
			retry = nil
		}

		if atomic.LoadInt32(&r.paused) == 1 {
			continue
		}
		if !r.backgroundPass(ctx) || r.config.BackoffMin <= 0 {
			backoff = r.config.BackoffMin
			continue
		}

		if retryTimer != nil {
			retryTimer.Stop()
		}
		retryTimer = time.NewTimer(backoff)
		retry = retryTimer.C
		backoff *= 2
		if r.config.BackoffMax > 0 && backoff > r.config.BackoffMax {
			backoff = r.config.BackoffMax
		}
	}
}

// backgroundPass runs one pass and reports whether any record failed
func (r *Runner) backgroundPass(ctx context.Context) (failed bool) {
	passCtx := ctx
	if r.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, r.config.PassTimeout)
		defer cancel()
	}

	reports, err := r.SyncNow(passCtx)
	if r.config.OnPass != nil {
		r.config.OnPass(reports, err)
	}
	for _, rep := range reports {
		if rep.Failed > 0 {
			return true
		}
	}
	return err != nil
}
