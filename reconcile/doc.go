// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile implements spec.md §4.7's reconciliation engine:
// the peer-facing half of sync that sits between package syncproto
// (which moves bytes) and packages index/blockstore/branch (which
// know what the bytes mean).
//
// A peer root arrives, gets validated (signature, VersionVector
// monotonicity) and cached, diffed against what's already stored
// locally to find the blocks still missing, and those blocks get
// fetched and verified one at a time as they arrive. None of this
// requires the two sides to agree on network framing — syncproto
// drives Engine's entry points from whatever messages it decodes, and
// reconcile never touches a socket itself. The shape mirrors
// lib/artifact/refindex.go's RefIndex: a small mutex-guarded map
// serving as the single source of truth other goroutines query and
// update concurrently.
package reconcile
