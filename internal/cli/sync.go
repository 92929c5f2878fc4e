// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command
type SyncOptions struct {
	*RootOptions
	Watch bool
}

// SyncResult is the outcome of one collection in a sync pass
type SyncResult struct {
	Collection string `json:"collection"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	Recreated  int    `json:"recreated"`
	Superseded int    `json:"superseded"`
	Unresolved int    `json:"unresolved"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show entry and pending counts per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(s *session) error {
				status, err := s.tracker.Status(cmd.Context(), s.userID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read status", err)
				}
				return rootOpts.formatter(cmd).Success(status, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "COLLECTION\tENTRIES\tPENDING")
					for _, st := range status {
						fmt.Fprintf(tw, "%s\t%d\t%d\n", st.Collection, st.Total, st.Pending)
					}
					tw.Flush()
				})
			})
		},
	}
}

// NewSyncCommand creates the sync command
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload pending changes to the server",
		Long: `Replay every pending create, update and delete against the server.

Records that fail stay pending and are retried by the next pass. With
--watch the command keeps running, retrying with backoff until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return whenSignedIn(rootOpts, cmd, []SyncResult{}, "No signed-in user, nothing to sync", func(s *session) error {
				return runSync(opts, cmd, s)
			})
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep syncing in the background until interrupted")
	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command, s *session) error {
	ctx := cmd.Context()
	out := opts.formatter(cmd)

	if opts.Watch {
		out.VerboseLog("Watching for changes, interval %s", s.cfg.Client.SyncInterval)
		s.tracker.Runner().Trigger()
		if err := s.tracker.Run(ctx); err != nil {
			return WrapExitError(ExitFailure, "sync loop failed", err)
		}
		return nil
	}

	reports, err := s.tracker.SyncNow(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	results := make([]SyncResult, 0, len(reports))
	failed := 0
	for _, rep := range reports {
		res := SyncResult{
			Collection: rep.Collection,
			Created:    rep.Created,
			Updated:    rep.Updated,
			Deleted:    rep.Deleted,
			Recreated:  rep.Recreated,
			Superseded: rep.Superseded,
			Unresolved: rep.Unresolved,
			Failed:     rep.Failed,
		}
		if err := rep.Err(); err != nil {
			res.Error = err.Error()
		}
		failed += rep.Failed
		results = append(results, res)
	}

	if err := out.Success(results, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COLLECTION\tCREATED\tUPDATED\tDELETED\tFAILED")
		for _, res := range results {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", res.Collection, res.Created, res.Updated, res.Deleted, res.Failed)
		}
		tw.Flush()
	}); err != nil {
		return err
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d records left pending", failed))
	}
	return nil
}

// NewPullCommand creates the pull command
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Import entries created on other devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return whenSignedIn(rootOpts, cmd, map[string]int{"imported": 0}, "No signed-in user, nothing to pull", func(s *session) error {
				n, err := s.tracker.Pull(cmd.Context())
				if err != nil {
					return WrapExitError(ExitFailure, "pull failed", err)
				}
				result := map[string]int{"imported": n}
				return rootOpts.formatter(cmd).Success(result, func(w io.Writer) {
					fmt.Fprintf(w, "Imported %d entries\n", n)
				})
			})
		},
	}
}

// whenSignedIn runs fn in a session. Without a configured user it succeeds
// with idle as the result and never opens the database.
func whenSignedIn(rootOpts *RootOptions, cmd *cobra.Command, idle any, message string, fn func(s *session) error) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Client.UserID == "" {
		return rootOpts.formatter(cmd).Success(idle, func(w io.Writer) {
			fmt.Fprintln(w, message)
		})
	}
	return withSession(rootOpts, cmd, fn)
}
