// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog logger used by the fitsync binaries
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alestar328/TraiScore-sub000/internal/config"
)

// New returns a logger for cfg and a closer for its file output. stdout is
// used when cfg.File is empty.
func New(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, io.Closer) {
	if stdout == nil {
		stdout = os.Stdout
	}

	out := stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		filename := cfg.File
		if !strings.HasSuffix(filename, ".log") {
			filename += ".log"
		}
		file := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    50, // megabytes
			MaxBackups: 10,
			LocalTime:  false,
			Compress:   true,
		}
		closer = file
		out = file
		if cfg.Stdout {
			out = io.MultiWriter(stdout, file)
		}
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer
}

// ParseLevel maps a level name to slog; unknown names mean info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
