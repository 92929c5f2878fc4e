package fitsqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/memstore"
)

type lift struct {
	Name  string  `json:"name"`
	Kilos float64 `json:"kilos"`
	Reps  int     `json:"reps"`
}

type liftAdapter struct{}

func (liftAdapter) ToDocument(l lift) (fitsync.Document, error) {
	return fitsync.Document{"name": l.Name, "kilos": l.Kilos, "reps": l.Reps}, nil
}

func (liftAdapter) FromDocument(doc fitsync.Document) (lift, error) {
	kilos, err := doc.Float("kilos")
	if err != nil {
		return lift{}, err
	}
	reps, err := doc.Int("reps")
	if err != nil {
		return lift{}, err
	}
	return lift{Name: doc.String("name"), Kilos: kilos, Reps: int(reps)}, nil
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "fit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestStore(t *testing.T, db *DB, collection string) *Store[lift] {
	t.Helper()
	s, err := NewStore[lift](db, collection)
	require.NoError(t, err)
	return s
}

func TestInitializeDatabase(t *testing.T) {
	db := openTestDB(t)

	var count int
	err := db.SQL.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='_fit_records'").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	var journalMode string
	require.NoError(t, db.SQL.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	// Running initialization twice must be harmless
	require.NoError(t, initializeDatabase(db.SQL))
}

func TestSchemaRejectsInconsistentState(t *testing.T) {
	db := openTestDB(t)

	_, err := db.SQL.Exec(`
		INSERT INTO _fit_records (collection, user_id, local_id, payload, sync_state, pending_op, updated_at)
		VALUES ('exercises', 'u1', 'l1', '{}', 'SYNCED', 'CREATE', '2025-01-01T00:00:00Z')`)
	require.Error(t, err, "SYNCED rows cannot carry a pending op")

	_, err = db.SQL.Exec(`
		INSERT INTO _fit_records (collection, user_id, local_id, payload, sync_state, pending_op, updated_at)
		VALUES ('exercises', 'u1', 'l2', '{}', 'PENDING', 'DELETE', '2025-01-01T00:00:00Z')`)
	require.Error(t, err, "DELETE requires a remote id")
}

func TestStoreInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, openTestDB(t), "exercises")

	rec, err := s.Insert(ctx, "u1", lift{Name: "squat", Kilos: 100, Reps: 5})
	require.NoError(t, err)
	require.NotEmpty(t, rec.LocalID)
	require.Equal(t, fitsync.StatePending, rec.State)
	require.Equal(t, fitsync.OpCreate, rec.Op)

	got, err := s.Get(ctx, "u1", rec.LocalID)
	require.NoError(t, err)
	require.Equal(t, rec.Payload, got.Payload)
	require.Equal(t, rec.State, got.State)
	require.Equal(t, rec.Op, got.Op)
	require.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))

	_, err = s.Get(ctx, "u2", rec.LocalID)
	require.ErrorIs(t, err, fitsync.ErrNotFound, "rows are scoped to their user")
}

func TestStoreCollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	exercises := newTestStore(t, db, "exercises")
	workouts := newTestStore(t, db, "workouts")

	_, err := exercises.Insert(ctx, "u1", lift{Name: "bench"})
	require.NoError(t, err)

	all, err := workouts.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestStoreUpdateAndListPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, openTestDB(t), "exercises")

	a, err := s.Insert(ctx, "u1", lift{Name: "a"})
	require.NoError(t, err)
	b, err := s.Insert(ctx, "u1", lift{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, a.Synced("r-a")))

	pending, err := s.ListPending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.LocalID, pending[0].LocalID)

	all, err := s.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, a.LocalID, all[0].LocalID, "insertion order is kept")
	require.Equal(t, "r-a", all[0].RemoteID)

	invalid := b
	invalid.State = fitsync.StateSynced
	require.ErrorIs(t, s.Update(ctx, invalid), fitsync.ErrInvalidRecord)

	missing := b
	missing.LocalID = "nope"
	require.ErrorIs(t, s.Update(ctx, missing), fitsync.ErrNotFound)
}

func TestStoreMarkPendingDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, openTestDB(t), "exercises")

	neverSynced, err := s.Insert(ctx, "u1", lift{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, s.MarkPendingDelete(ctx, "u1", neverSynced.LocalID))
	_, err = s.Get(ctx, "u1", neverSynced.LocalID)
	require.ErrorIs(t, err, fitsync.ErrNotFound, "never-synced rows are purged")

	synced, err := s.Import(ctx, "u1", "r1", lift{Name: "b"})
	require.NoError(t, err)
	require.NoError(t, s.MarkPendingDelete(ctx, "u1", synced.LocalID))
	got, err := s.Get(ctx, "u1", synced.LocalID)
	require.NoError(t, err)
	require.Equal(t, fitsync.StatePending, got.State)
	require.Equal(t, fitsync.OpDelete, got.Op)
	require.Equal(t, "r1", got.RemoteID)

	require.NoError(t, s.Delete(ctx, "u1", synced.LocalID))
	require.ErrorIs(t, s.Delete(ctx, "u1", synced.LocalID), fitsync.ErrNotFound)
	require.ErrorIs(t, s.MarkPendingDelete(ctx, "u1", "missing"), fitsync.ErrNotFound)
}

func TestStoreMarkSynced(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, openTestDB(t), "exercises")

	rec, err := s.Insert(ctx, "u1", lift{Name: "a"})
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)

	synced, err := s.MarkSynced(ctx, "u1", rec.LocalID, "r-a", rec.Version)
	require.NoError(t, err)
	require.True(t, synced)
	got, err := s.Get(ctx, "u1", rec.LocalID)
	require.NoError(t, err)
	require.Equal(t, fitsync.StateSynced, got.State)
	require.Equal(t, "r-a", got.RemoteID)
	require.Equal(t, int64(2), got.Version)

	stale, err := s.Insert(ctx, "u1", lift{Name: "b"})
	require.NoError(t, err)
	edited, err := stale.Edited(lift{Name: "b2"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, edited))

	synced, err = s.MarkSynced(ctx, "u1", stale.LocalID, "r-b", stale.Version)
	require.NoError(t, err)
	require.False(t, synced, "a row written since the snapshot stays pending")
	got, err = s.Get(ctx, "u1", stale.LocalID)
	require.NoError(t, err)
	require.Equal(t, fitsync.StatePending, got.State)
	require.Equal(t, fitsync.OpCreate, got.Op)
	require.Equal(t, "b2", got.Payload.Name)
	require.Equal(t, "r-b", got.RemoteID)

	// A later edit built from a snapshot without the remote id keeps it
	edited.Payload = lift{Name: "b3"}
	require.NoError(t, s.Update(ctx, edited))
	got, err = s.Get(ctx, "u1", stale.LocalID)
	require.NoError(t, err)
	require.Equal(t, "r-b", got.RemoteID)

	_, err = s.MarkSynced(ctx, "u1", "missing", "r-x", 1)
	require.ErrorIs(t, err, fitsync.ErrNotFound)
}

func TestStoreObserve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestStore(t, openTestDB(t), "exercises")

	ch, err := s.Observe(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, <-ch)

	_, err = s.Insert(ctx, "u1", lift{Name: "row"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, "u2", lift{Name: "other user"})
	require.NoError(t, err)

	select {
	case snapshot := <-ch:
		require.Len(t, snapshot, 1)
		require.Equal(t, "row", snapshot[0].Payload.Name)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after insert")
	}

	cancel()
	select {
	case _, open := <-ch:
		require.False(t, open, "channel closes once the context is done")
	case <-time.After(time.Second):
		t.Fatal("observer channel was not closed")
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fit.db")

	db, err := Open(path, nil)
	require.NoError(t, err)
	s := newTestStore(t, db, "exercises")
	rec, err := s.Insert(ctx, "u1", lift{Name: "persisted", Kilos: 42.5})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, nil)
	require.NoError(t, err)
	defer db.Close()
	s = newTestStore(t, db, "exercises")
	got, err := s.Get(ctx, "u1", rec.LocalID)
	require.NoError(t, err)
	require.Equal(t, 42.5, got.Payload.Kilos)
	require.True(t, got.IsPending())
}

func TestStoreDrivesCoordinator(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, openTestDB(t), "exercises")
	backend := memstore.NewBackend()

	coord, err := fitsync.NewCoordinator[lift](s, backend.Collection("exercises"), liftAdapter{}, fitsync.DefaultConfig("exercises"), nil)
	require.NoError(t, err)

	rec, err := s.Insert(ctx, "u1", lift{Name: "deadlift", Kilos: 180, Reps: 3})
	require.NoError(t, err)

	report, err := coord.SyncOnce(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	got, err := s.Get(ctx, "u1", rec.LocalID)
	require.NoError(t, err)
	require.Equal(t, fitsync.StateSynced, got.State)
	require.Equal(t, fitsync.RemoteIDFor("exercises", rec.LocalID), got.RemoteID)

	doc, err := backend.Collection("exercises").Get(ctx, "u1", got.RemoteID)
	require.NoError(t, err)
	require.Equal(t, "deadlift", doc.String("name"))
}
