package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alestar328/TraiScore-sub000/fithttp"
	"github.com/alestar328/TraiScore-sub000/fitness"
	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/memstore"
)

type device struct {
	t       *testing.T
	dbPath  string
	backend fitsync.Backend
}

func newDevice(t *testing.T, backend fitsync.Backend) *device {
	return &device{t: t, dbPath: filepath.Join(t.TempDir(), "device.db"), backend: backend}
}

func (d *device) run(stdin string, args ...string) (string, error) {
	d.t.Helper()
	cmd := newRootCommand(&RootOptions{Backend: d.backend})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--db", d.dbPath, "--user", "alice"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fitsync", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"add", "update", "delete", "list", "status", "sync", "pull", "token"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for name, def := range map[string]string{"verbose": "false", "format": "text", "config": "", "db": "", "user": ""} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, def, flag.DefValue, name)
	}
}

func TestInvalidFormat(t *testing.T) {
	d := newDevice(t, memstore.NewBackend())
	_, err := d.run("", "--format", "xml", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestAddListSyncFlow(t *testing.T) {
	backend := memstore.NewBackend()
	d := newDevice(t, backend)

	out, err := d.run("", "--format", "json", "add", "exercises", `{"name":"squat","muscle_group":"legs","kilos":100,"reps":5,"sets":5}`)
	require.NoError(t, err)
	var added fitness.Entry
	decodeData(t, out, &added)
	require.NotEmpty(t, added.LocalID)
	require.Equal(t, fitsync.OpCreate, added.Op)

	out, err = d.run(`{"weight_kg":80.5,"measured_at":"2025-05-04T08:00:00Z"}`, "add", "body_stats", "-")
	require.NoError(t, err)
	require.Contains(t, out, "Added body_stats")

	out, err = d.run("", "list", "exercises")
	require.NoError(t, err)
	require.Contains(t, out, added.LocalID)
	require.Contains(t, out, "PENDING CREATE")

	out, err = d.run("", "--format", "json", "sync")
	require.NoError(t, err)
	var results []SyncResult
	decodeData(t, out, &results)
	created := 0
	for _, res := range results {
		created += res.Created
	}
	require.Equal(t, 2, created)
	require.Equal(t, 1, backend.Coll("exercises").Len("alice"))

	_, err = d.run("", "update", "exercises", added.LocalID, `{"kilos":110}`)
	require.NoError(t, err)

	out, err = d.run("", "--format", "json", "status")
	require.NoError(t, err)
	var status []fitness.CollectionStatus
	decodeData(t, out, &status)
	require.Equal(t, fitness.CollectionStatus{Collection: "exercises", Total: 1, Pending: 1}, status[0])

	_, err = d.run("", "delete", "exercises", added.LocalID)
	require.NoError(t, err)
	_, err = d.run("", "sync")
	require.NoError(t, err)
	require.Zero(t, backend.Coll("exercises").Len("alice"))
}

func TestSyncFailureExitCode(t *testing.T) {
	backend := memstore.NewBackend()
	backend.Coll("workouts").SetFail(func(string, string, string) error { return assert.AnError })
	d := newDevice(t, backend)

	_, err := d.run("", "add", "workouts", `{"title":"run","started_at":"2025-05-04T07:00:00Z"}`)
	require.NoError(t, err)

	out, err := d.run("", "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "workouts")
}

func TestPullCommand(t *testing.T) {
	backend := memstore.NewBackend()
	phone := newDevice(t, backend)
	_, err := phone.run("", "add", "lab_results", `{"test_name":"ferritin","value":80,"unit":"ng/mL","taken_at":"2025-05-01T09:00:00Z"}`)
	require.NoError(t, err)
	_, err = phone.run("", "sync")
	require.NoError(t, err)

	laptop := newDevice(t, backend)
	out, err := laptop.run("", "--format", "json", "pull")
	require.NoError(t, err)
	var result map[string]int
	decodeData(t, out, &result)
	require.Equal(t, 1, result["imported"])

	out, err = laptop.run("", "list", "lab_results")
	require.NoError(t, err)
	require.Contains(t, out, "ferritin")
	require.Contains(t, out, "SYNCED")
}

func TestEntryErrors(t *testing.T) {
	d := newDevice(t, memstore.NewBackend())

	_, err := d.run("", "add", "yoga", `{}`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = d.run("", "add", "exercises", `{not json`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = d.run("", "add", "exercises", `{"kilos":5}`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, fitness.ErrInvalidEntry)

	_, err = d.run("", "delete", "exercises", "missing")
	assert.ErrorIs(t, err, fitsync.ErrNotFound)
}

func TestMissingUser(t *testing.T) {
	cmd := newRootCommand(&RootOptions{Backend: memstore.NewBackend()})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "d.db"), "status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSyncAndPullWithoutUserAreNoOps(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "d.db")
	for _, name := range []string{"sync", "pull"} {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCommand(&RootOptions{Backend: memstore.NewBackend()})
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"--db", dbPath, name})
			require.NoError(t, cmd.Execute())
			assert.Contains(t, out.String(), "No signed-in user")
		})
	}
	assert.NoFileExists(t, dbPath, "no database is opened without a user")
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("FITSYNC_JWT_SECRET", "cli-secret")
	d := newDevice(t, nil)

	out, err := d.run("", "--format", "json", "token", "--device", "watch")
	require.NoError(t, err)
	var result map[string]string
	decodeData(t, out, &result)

	claims, err := fithttp.NewJWTAuth("cli-secret", nil).ValidateToken(result["token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "watch", claims.DeviceID)
}
