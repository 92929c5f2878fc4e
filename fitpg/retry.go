// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitpg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available (incl. lock_timeout)
		return true
	default:
		return false
	}
}

// withRetry runs fn, repeating it with linear backoff while it fails
// with a retryable Postgres error
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isRetryablePGTxError(err) || attempt >= s.config.MaxRetries {
			return err
		}
		s.logger.Debug("retrying document write", "op", op, "attempt", attempt+1, "error", err)
		if sleepErr := sleepWithContext(ctx, time.Duration(attempt+1)*s.config.RetryBackoff); sleepErr != nil {
			return sleepErr
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
