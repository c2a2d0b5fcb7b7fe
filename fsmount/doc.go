// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsmount adapts a repository.Repository onto a FUSE mount
// using hanwen/go-fuse. It is a thin, read-mostly adapter (SPEC_FULL.md
// §4.11): lookups and directory listings resolve straight through
// repository's merged view, each Read is served by a repository
// ReadFile call for the requested range, and writes map onto the handful of repository verbs
// that exist. It is not exhaustively featured — no xattrs, no hard
// links, no byte-range locking — because those are out of scope for
// what repository itself exposes, not because of time pressure.
package fsmount
