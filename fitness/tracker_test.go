package fitness

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alestar328/TraiScore-sub000/fithttp"
	"github.com/alestar328/TraiScore-sub000/fitsqlite"
	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/memstore"
)

const testSecret = "tracker-test-secret"

// cloud is a document API served over a memstore backend
type cloud struct {
	backend *memstore.Backend
	jwtAuth *fithttp.JWTAuth
	server  *httptest.Server
}

func newCloud(t *testing.T) *cloud {
	t.Helper()
	backend := memstore.NewBackend()
	jwtAuth := fithttp.NewJWTAuth(testSecret, nil)
	srv, err := fithttp.NewServer(backend, jwtAuth, &fithttp.ServerConfig{Collections: Collections()}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &cloud{backend: backend, jwtAuth: jwtAuth, server: ts}
}

func (c *cloud) client(t *testing.T, userID, deviceID string) *fithttp.Client {
	t.Helper()
	tok, err := c.jwtAuth.GenerateToken(userID, deviceID, time.Hour)
	require.NoError(t, err)
	client, err := fithttp.NewClient(c.server.URL, fithttp.StaticToken(tok), nil)
	require.NoError(t, err)
	return client
}

func newDeviceTracker(t *testing.T, backend fitsync.Backend, userID string) *Tracker {
	t.Helper()
	db, err := fitsqlite.Open(filepath.Join(t.TempDir(), "device.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tracker, err := NewTracker(db, backend, fitsync.StaticUser(userID), nil, nil)
	require.NoError(t, err)
	return tracker
}

func TestTracker_SyncsThroughDocumentAPI(t *testing.T) {
	ctx := context.Background()
	c := newCloud(t)
	tracker := newDeviceTracker(t, c.client(t, "alice", "phone"), "alice")

	squat, err := tracker.Add(ctx, "alice", CollectionExercises,
		json.RawMessage(`{"name":"squat","muscle_group":"legs","kilos":120,"reps":5,"sets":5}`))
	require.NoError(t, err)
	require.Equal(t, fitsync.StatePending, squat.State)
	require.Equal(t, fitsync.OpCreate, squat.Op)

	_, err = tracker.BodyStats.Add(ctx, "alice", BodyStats{WeightKg: 81.2, MeasuredAt: time.Now()})
	require.NoError(t, err)

	reports, err := tracker.SyncNow(ctx)
	require.NoError(t, err)
	require.Len(t, reports, len(Collections()))
	created := 0
	for _, rep := range reports {
		require.NoError(t, rep.Err())
		created += rep.Created
	}
	require.Equal(t, 2, created)

	require.Equal(t, 1, c.backend.Coll(CollectionExercises).Len("alice"))
	require.Equal(t, 1, c.backend.Coll(CollectionBodyStats).Len("alice"))

	synced, err := tracker.Get(ctx, "alice", CollectionExercises, squat.LocalID)
	require.NoError(t, err)
	require.Equal(t, fitsync.StateSynced, synced.State)
	remoteID := fitsync.RemoteIDFor(CollectionExercises, squat.LocalID)
	require.Equal(t, remoteID, synced.RemoteID)

	// Edit merges fields and the next pass updates the remote document
	edited, err := tracker.Edit(ctx, "alice", CollectionExercises, squat.LocalID, json.RawMessage(`{"kilos":125}`))
	require.NoError(t, err)
	require.Equal(t, fitsync.OpUpdate, edited.Op)
	var payload Exercise
	require.NoError(t, json.Unmarshal(edited.Payload, &payload))
	require.Equal(t, 125.0, payload.Kilos)
	require.Equal(t, "squat", payload.Name)

	_, err = tracker.SyncNow(ctx)
	require.NoError(t, err)
	doc, err := c.backend.Collection(CollectionExercises).Get(ctx, "alice", remoteID)
	require.NoError(t, err)
	kilos, err := doc.Float("kilos")
	require.NoError(t, err)
	require.Equal(t, 125.0, kilos)

	// Removal hides the entry at once and deletes remotely on the next pass
	require.NoError(t, tracker.Remove(ctx, "alice", CollectionExercises, squat.LocalID))
	entries, err := tracker.List(ctx, "alice", CollectionExercises)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = tracker.SyncNow(ctx)
	require.NoError(t, err)
	require.Zero(t, c.backend.Coll(CollectionExercises).Len("alice"))
	_, err = tracker.Get(ctx, "alice", CollectionExercises, squat.LocalID)
	require.ErrorIs(t, err, fitsync.ErrNotFound)
}

func TestTracker_OfflineWritesSyncLater(t *testing.T) {
	ctx := context.Background()
	backend := memstore.NewBackend()
	tracker := newDeviceTracker(t, backend, "bob")

	offline := errors.New("network unreachable")
	backend.Coll(CollectionWorkouts).SetFail(func(string, string, string) error { return offline })

	start := time.Now().Add(-time.Hour)
	_, err := tracker.Workouts.Add(ctx, "bob", Workout{Title: "intervals", StartedAt: start, FinishedAt: time.Now(), Calories: 610})
	require.NoError(t, err, "local writes succeed while the backend is down")

	reports, err := tracker.SyncNow(ctx)
	require.NoError(t, err)
	var failed int
	for _, rep := range reports {
		failed += rep.Failed
		if rep.Failed > 0 {
			require.ErrorIs(t, rep.Err(), offline)
		}
	}
	require.Equal(t, 1, failed)

	status, err := tracker.Status(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, CollectionStatus{Collection: CollectionWorkouts, Total: 1, Pending: 1}, status[1])

	backend.Coll(CollectionWorkouts).SetFail(nil)
	_, err = tracker.SyncNow(ctx)
	require.NoError(t, err)

	status, err = tracker.Status(ctx, "bob")
	require.NoError(t, err)
	require.Zero(t, status[1].Pending)
	require.Equal(t, 1, backend.Coll(CollectionWorkouts).Len("bob"))
}

func TestTracker_PullRestoresEntriesOnNewDevice(t *testing.T) {
	ctx := context.Background()
	c := newCloud(t)

	phone := newDeviceTracker(t, c.client(t, "carol", "phone"), "carol")
	_, err := phone.LabResults.Add(ctx, "carol", LabResult{TestName: "vitamin D", Value: 42, Unit: "ng/mL", ReferenceLow: 30, ReferenceHigh: 100, TakenAt: time.Now()})
	require.NoError(t, err)
	_, err = phone.SyncNow(ctx)
	require.NoError(t, err)

	tablet := newDeviceTracker(t, c.client(t, "carol", "tablet"), "carol")
	n, err := tablet.Pull(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	labs, err := tablet.LabResults.List(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, labs, 1)
	require.Equal(t, "vitamin D", labs[0].Payload.TestName)
	require.Equal(t, fitsync.StateSynced, labs[0].State)

	// Pulling again imports nothing new
	n, err = tablet.Pull(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestTracker_BackgroundRunnerSyncsMutations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	backend := memstore.NewBackend()
	tracker := newDeviceTracker(t, backend, "dave")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tracker.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	_, err := tracker.Exercises.Add(ctx, "dave", Exercise{Name: "pull-up", MuscleGroup: "back", Reps: 10})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return backend.Coll(CollectionExercises).Len("dave") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTracker_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	tracker := newDeviceTracker(t, memstore.NewBackend(), "erin")

	_, err := tracker.Add(ctx, "erin", "yoga", json.RawMessage(`{}`))
	require.ErrorContains(t, err, "unknown collection")

	_, err = tracker.Add(ctx, "erin", CollectionExercises, json.RawMessage(`{"name":"squat","colour":"red"}`))
	require.ErrorIs(t, err, ErrInvalidEntry, "unknown fields are rejected")

	_, err = tracker.Add(ctx, "erin", CollectionExercises, json.RawMessage(`{"kilos":10}`))
	require.ErrorIs(t, err, ErrInvalidEntry)

	status, err := tracker.Status(ctx, "erin")
	require.NoError(t, err)
	for _, st := range status {
		require.Zero(t, st.Total)
	}
}
