// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alestar328/TraiScore-sub000/fitness"
	"github.com/alestar328/TraiScore-sub000/fitsync"
)

// NewAddCommand creates the add command
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> <json|->",
		Short: "Record a new entry",
		Long: `Store a new entry locally and queue it for upload.

Examples:
  fitsync add exercises '{"name":"squat","muscle_group":"legs","kilos":100,"reps":5,"sets":5}'
  fitsync add body_stats - < measurement.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCollection(args[0]); err != nil {
				return err
			}
			payload, err := readPayload(cmd, args[1])
			if err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(s *session) error {
				entry, err := s.tracker.Add(cmd.Context(), s.userID, args[0], payload)
				if err != nil {
					return entryError("failed to add entry", err)
				}
				return rootOpts.formatter(cmd).Success(entry, func(w io.Writer) {
					fmt.Fprintf(w, "Added %s %s\n", entry.Collection, entry.LocalID)
				})
			})
		},
	}
}

// NewUpdateCommand creates the update command
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <collection> <local-id> <json|->",
		Short: "Change fields of an entry",
		Long: `Merge the given JSON fields into an existing entry. Fields that are not
mentioned keep their value.

Example:
  fitsync update exercises 3f0c... '{"kilos":105}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCollection(args[0]); err != nil {
				return err
			}
			patch, err := readPayload(cmd, args[2])
			if err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(s *session) error {
				entry, err := s.tracker.Edit(cmd.Context(), s.userID, args[0], args[1], patch)
				if err != nil {
					return entryError("failed to update entry", err)
				}
				return rootOpts.formatter(cmd).Success(entry, func(w io.Writer) {
					fmt.Fprintf(w, "Updated %s %s\n", entry.Collection, entry.LocalID)
				})
			})
		},
	}
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <collection> <local-id>",
		Aliases: []string{"rm"},
		Short:   "Delete an entry",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCollection(args[0]); err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(s *session) error {
				if err := s.tracker.Remove(cmd.Context(), s.userID, args[0], args[1]); err != nil {
					return entryError("failed to delete entry", err)
				}
				result := map[string]string{"collection": args[0], "local_id": args[1]}
				return rootOpts.formatter(cmd).Success(result, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %s %s\n", args[0], args[1])
				})
			})
		},
	}
}

// NewListCommand creates the list command
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list <collection>",
		Aliases: []string{"ls"},
		Short:   "List entries of a collection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkCollection(args[0]); err != nil {
				return err
			}
			return withSession(rootOpts, cmd, func(s *session) error {
				entries, err := s.tracker.List(cmd.Context(), s.userID, args[0])
				if err != nil {
					return WrapExitError(ExitFailure, "failed to list entries", err)
				}
				return rootOpts.formatter(cmd).Success(entries, func(w io.Writer) {
					writeEntries(w, entries)
				})
			})
		},
	}
}

func withSession(rootOpts *RootOptions, cmd *cobra.Command, fn func(s *session) error) (err error) {
	s, err := rootOpts.openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = WrapExitError(ExitFailure, "failed to close database", cerr)
		}
	}()
	return fn(s)
}

func readPayload(cmd *cobra.Command, arg string) (json.RawMessage, error) {
	raw := []byte(arg)
	if arg == "-" {
		var err error
		if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
	}
	if !json.Valid(raw) {
		return nil, NewExitError(ExitCommandError, "payload is not valid JSON")
	}
	return raw, nil
}

func entryError(message string, err error) error {
	if errors.Is(err, fitness.ErrInvalidEntry) || errors.Is(err, fitsync.ErrNotFound) {
		return WrapExitError(ExitCommandError, message, err)
	}
	return WrapExitError(ExitFailure, message, err)
}

func writeEntries(w io.Writer, entries []fitness.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCAL ID\tSTATE\tUPDATED\tPAYLOAD")
	for _, e := range entries {
		state := string(e.State)
		if e.State == fitsync.StatePending {
			state += " " + string(e.Op)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.LocalID, state, e.UpdatedAt.Local().Format(time.DateTime), e.Payload)
	}
	tw.Flush()
}
