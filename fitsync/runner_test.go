package fitsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

func startRunner(t *testing.T, r *fitsync.Runner) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestRunner_TriggerRunsBackgroundPass(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	h := newHarness(t, nil)
	passes := make(chan []*fitsync.Report, 16)

	runner := fitsync.NewRunner(fitsync.StaticUser("u1"), []fitsync.Syncer{h.coord}, &fitsync.RunnerConfig{
		OnPass: func(reports []*fitsync.Report, err error) {
			assert.NoError(t, err)
			passes <- reports
		},
	}, nil)
	h.repo.SetOnChange(runner.Trigger)

	stop := startRunner(t, runner)
	defer stop()

	rec, err := h.repo.Add(ctx, "u1", note{Text: "deadlift"})
	require.NoError(t, err)

	select {
	case reports := <-passes:
		require.Len(t, reports, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("background pass did not run")
	}

	require.Eventually(t, func() bool {
		got, err := h.local.Get(ctx, "u1", rec.LocalID)
		return err == nil && got.State == fitsync.StateSynced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunner_TriggersAreCoalesced(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, nil)
	passes := make(chan struct{}, 100)
	runner := fitsync.NewRunner(fitsync.StaticUser("u1"), []fitsync.Syncer{h.coord}, &fitsync.RunnerConfig{
		OnPass: func([]*fitsync.Report, error) { passes <- struct{}{} },
	}, nil)

	// Without a running loop, repeated triggers collapse into one queued pass.
	for i := 0; i < 100; i++ {
		runner.Trigger()
	}
	stop := startRunner(t, runner)

	select {
	case <-passes:
	case <-time.After(2 * time.Second):
		t.Fatal("queued pass did not run")
	}
	// Give the loop a moment to pick up anything else that was queued.
	time.Sleep(50 * time.Millisecond)
	stop()
	require.Len(t, passes, 0)
}

func TestRunner_RetriesWithBackoffAfterFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	h := newHarness(t, nil)
	failures := 1
	h.remote.SetFail(func(string, string, string) error {
		if failures > 0 {
			failures--
			return errOffline
		}
		return nil
	})

	passes := make(chan []*fitsync.Report, 16)
	runner := fitsync.NewRunner(fitsync.StaticUser("u1"), []fitsync.Syncer{h.coord}, &fitsync.RunnerConfig{
		BackoffMin: 10 * time.Millisecond,
		BackoffMax: 40 * time.Millisecond,
		OnPass:     func(reports []*fitsync.Report, _ error) { passes <- reports },
	}, nil)
	h.repo.SetOnChange(runner.Trigger)
	stop := startRunner(t, runner)
	defer stop()

	_, err := h.repo.Add(ctx, "u1", note{Text: "row"})
	require.NoError(t, err)

	first := <-passes
	require.Equal(t, 1, first[0].Failed)

	select {
	case second := <-passes:
		require.Zero(t, second[0].Failed)
		require.Equal(t, 1, second[0].Created)
	case <-time.After(2 * time.Second):
		t.Fatal("retry pass did not run")
	}
}

func TestRunner_SyncNowWithoutUserIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.repo.Add(ctx, "u1", note{Text: "row"})
	require.NoError(t, err)

	runner := fitsync.NewRunner(fitsync.StaticUser(""), []fitsync.Syncer{h.coord}, nil, nil)
	reports, err := runner.SyncNow(ctx)
	require.NoError(t, err)
	require.Empty(t, reports)
	require.Zero(t, h.remote.TotalCalls())
}

func TestRunner_SyncNowAndHydrate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	_, err := h.repo.Add(ctx, "u1", note{Text: "row"})
	require.NoError(t, err)
	require.NoError(t, h.remote.Put(ctx, "u1", "elsewhere", fitsync.Document{"text": "remote", "count": 1}))

	runner := fitsync.NewRunner(fitsync.StaticUser("u1"), []fitsync.Syncer{h.coord}, nil, nil)
	reports, err := runner.SyncNow(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, 1, reports[0].Created)

	n, err := runner.HydrateNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := h.repo.PendingCount(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, count)
}
