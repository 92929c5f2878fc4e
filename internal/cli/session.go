// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/alestar328/TraiScore-sub000/fithttp"
	"github.com/alestar328/TraiScore-sub000/fitness"
	"github.com/alestar328/TraiScore-sub000/fitsqlite"
	"github.com/alestar328/TraiScore-sub000/fitsync"
	"github.com/alestar328/TraiScore-sub000/internal/config"
	"github.com/alestar328/TraiScore-sub000/internal/logging"
)

// session is the local database and tracker opened for one command
type session struct {
	cfg     *config.Config
	userID  string
	logger  *slog.Logger
	db      *fitsqlite.DB
	tracker *fitness.Tracker
	logOut  io.Closer
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DBPath != "" {
		cfg.Client.DBPath = o.DBPath
	}
	if o.UserID != "" {
		cfg.Client.UserID = o.UserID
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Client.UserID == "" {
		return nil, NewExitError(ExitCommandError, "no signed-in user: set client.user_id or pass --user")
	}
	mode, err := cfg.Client.Mode()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid create mode", err)
	}

	logger, logOut := logging.New(cfg.Log, cmd.ErrOrStderr())
	db, err := fitsqlite.Open(cfg.Client.DBPath, logger)
	if err != nil {
		logOut.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	backend := o.Backend
	if backend == nil {
		client, err := fithttp.NewClient(cfg.Client.ServerURL, fithttp.StaticToken(cfg.Client.Token), logger)
		if err != nil {
			db.Close()
			logOut.Close()
			return nil, WrapExitError(ExitCommandError, "invalid server url", err)
		}
		backend = client
	}

	runnerConfig := fitsync.DefaultRunnerConfig()
	runnerConfig.Interval = cfg.Client.SyncInterval
	tracker, err := fitness.NewTracker(db, backend, fitsync.StaticUser(cfg.Client.UserID), &fitness.TrackerConfig{
		CreateMode:      mode,
		Runner:          runnerConfig,
		LogStageTimings: o.Verbose,
	}, logger)
	if err != nil {
		db.Close()
		logOut.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create tracker", err)
	}

	return &session{
		cfg:     cfg,
		userID:  cfg.Client.UserID,
		logger:  logger,
		db:      db,
		tracker: tracker,
		logOut:  logOut,
	}, nil
}

func (s *session) Close() error {
	return multierr.Combine(s.db.Close(), s.logOut.Close())
}

func checkCollection(name string) error {
	if !slices.Contains(fitness.Collections(), name) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown collection %q: must be one of %v", name, fitness.Collections()))
	}
	return nil
}
