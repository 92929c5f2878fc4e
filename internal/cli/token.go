// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/alestar328/TraiScore-sub000/fithttp"
)

// TokenOptions holds flags for the token command
type TokenOptions struct {
	*RootOptions
	DeviceID string
	Expiry   time.Duration
}

// NewTokenCommand creates the token command
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the server secret",
		Long: `Issue a token for --user signed with server.jwt_secret (or
FITSYNC_JWT_SECRET). Put it in client.token or FITSYNC_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "device id (defaults to client.device_id)")
	cmd.Flags().DurationVar(&opts.Expiry, "expiry", 0, "token lifetime (defaults to server.token_expiry)")
	return cmd
}

func runToken(opts *TokenOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Client.UserID == "" {
		return NewExitError(ExitCommandError, "no user: set client.user_id or pass --user")
	}
	if cfg.Server.JWTSecret == "" {
		return NewExitError(ExitCommandError, "server.jwt_secret is empty")
	}
	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID = cfg.Client.DeviceID
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = cfg.Server.TokenExpiry
	}

	token, err := fithttp.NewJWTAuth(cfg.Server.JWTSecret, nil).GenerateToken(cfg.Client.UserID, deviceID, expiry)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to issue token", err)
	}
	result := map[string]string{"token": token, "user_id": cfg.Client.UserID, "device_id": deviceID}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintln(w, token)
	})
}
