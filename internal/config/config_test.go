package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alestar328/TraiScore-sub000/fitsync"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fitsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	mode, err := cfg.Client.Mode()
	require.NoError(t, err)
	require.Equal(t, fitsync.ClientIDs, mode)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  max_conns: 5
client:
  db_path: /tmp/device.db
  user_id: alice
  sync_interval: 15m
  create_mode: server
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, int32(5), cfg.Server.MaxConns)
	require.Equal(t, Default().Server.JWTSecret, cfg.Server.JWTSecret, "unset keys keep defaults")
	require.Equal(t, "/tmp/device.db", cfg.Client.DBPath)
	require.Equal(t, 15*time.Minute, cfg.Client.SyncInterval)
	mode, err := cfg.Client.Mode()
	require.NoError(t, err)
	require.Equal(t, fitsync.ServerIDs, mode)
	require.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  adress: \":1\"\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDatabaseURL: "postgres://db/fit",
		EnvJWTSecret:   "s3cret",
		EnvServerURL:   "https://fit.example.com",
		EnvToken:       "tok",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Equal(t, "postgres://db/fit", cfg.Server.DatabaseURL)
	require.Equal(t, "s3cret", cfg.Server.JWTSecret)
	require.Equal(t, "https://fit.example.com", cfg.Client.ServerURL)
	require.Equal(t, "tok", cfg.Client.Token)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv(EnvJWTSecret, "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Server.JWTSecret)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"negative max conns": func(c *Config) { c.Server.MaxConns = -1 },
		"negative interval":  func(c *Config) { c.Client.SyncInterval = -time.Second },
		"bad create mode":    func(c *Config) { c.Client.CreateMode = "random" },
		"bad log format":     func(c *Config) { c.Log.Format = "xml" },
		"bad log level":      func(c *Config) { c.Log.Level = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
