// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ouilog holds the one process-wide logging convention
// allowed by spec.md §9 ("only the logger and the process-wide
// repository registry are legitimately global").
//
// Every other package threads a *slog.Logger explicitly through its
// Config struct (mirroring sqlitepool.Config.Logger), defaulting to a
// discard handler when the caller passes nil — see [Discard]. Only
// cmd/ouisyncd calls [New] to install the process-wide default handler
// read by top-level code that has no narrower logger to thread.
package ouilog

import (
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger from the OUISYNC_LOG filter syntax:
// "debug", "info", "warn", or "error" (case-insensitive), defaulting
// to "info" for an empty or unrecognized string. Output is JSON on
// stderr, matching the teacher's daemon convention.
func New(levelFilter string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(levelFilter),
	}))
}

func parseLevel(filter string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(filter)) {
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

// Discard returns logger if non-nil, otherwise a logger that drops
// every record. Every package in the core calls this on its Config's
// Logger field instead of checking for nil at each log call site.
func Discard(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}
