package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alestar328/TraiScore-sub000/fitness"
	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/memstore"
)

func TestSetupPrometheus(t *testing.T) {
	reg := SetupPrometheus()
	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestObserveStage(t *testing.T) {
	m, _ := NewTestManagerAndRegistry()
	ctx := context.Background()

	m.ObserveStage(ctx, fitsync.StageTiming{Collection: "exercises", Operation: "sync", Stage: "create", Duration: time.Millisecond, Count: 2})
	m.ObserveStage(ctx, fitsync.StageTiming{Collection: "exercises", Operation: "sync", Stage: "create", Duration: time.Millisecond, Count: 1, Error: true})
	m.ObserveStage(ctx, fitsync.StageTiming{Collection: "exercises", Operation: "sync", Stage: "list_pending", Duration: time.Millisecond})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterRecords.WithLabelValues("exercises", "sync", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRecords.WithLabelValues("exercises", "sync", "create", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HistStageDuration, "fitsync_test_stage_duration_seconds"))
}

func TestCoordinatorReportsStages(t *testing.T) {
	m, _ := NewTestManagerAndRegistry()
	ctx := context.Background()

	local := memstore.NewLocal[fitness.Exercise]()
	remote := memstore.NewBackend()
	config := fitsync.DefaultConfig(fitness.CollectionExercises)
	config.StageMetrics = m
	coord, err := fitsync.NewCoordinator[fitness.Exercise](local, remote.Collection(fitness.CollectionExercises), fitness.JSONAdapter[fitness.Exercise]{}, config, nil)
	require.NoError(t, err)

	for _, name := range []string{"squat", "deadlift"} {
		_, err := local.Insert(ctx, "alice", fitness.Exercise{Name: name})
		require.NoError(t, err)
	}
	report, err := coord.SyncOnce(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterRecords.WithLabelValues("exercises", "sync", "create", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterRecords.WithLabelValues("exercises", "sync", "total", "ok")))
}

func TestRequestMetrics(t *testing.T) {
	m, _ := NewTestManagerAndRegistry()
	handler := m.RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, path := range []string{"/ok", "/ok", "/missing"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CounterRequests.WithLabelValues("GET", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterRequests.WithLabelValues("GET", "404")))
}
