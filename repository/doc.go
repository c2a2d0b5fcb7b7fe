// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package repository exposes the public verbs of spec.md §4.9: create
// and open a repository from a passphrase or a share token, read and
// write its directory tree, mint new share tokens, and subscribe to
// commit events. It composes access → branch → objectlayer →
// blockstore/index into one façade, the same shape as
// lib/artifact/client.go's thin wrapper around a content-addressed
// store's verbs — except a Repository talks to its own SQLite-backed
// stores directly rather than over a socket, since ouisync-go has no
// separate daemon process between a caller and its local replica.
//
// A Repository opened at ModeWrite has a mutable local branch: every
// write verb advances it by one VersionVector tick, re-signs its
// index root, and publishes the new root atomically (spec.md §4.6). A
// Repository opened at ModeRead or ModeBlind has no local branch at
// all — it can read the merged cross-branch view and participate in
// reconciliation, but every write verb reports ouierr.PermissionDenied.
//
// Reads merge every known branch's view of a directory, following
// spec.md §4.6's per-entry VersionVector rule: a name whose versions
// across branches are genuinely concurrent resolves to
// ouierr.AmbiguousEntry rather than an arbitrary pick (the MultiDir
// case, spec.md §4.3).
package repository
