// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package branch owns VersionVector semantics and the per-branch
// mutation sequence spec.md §4.6 defines: take the branch's current
// VersionVector, increment the local user's own entry, run the
// object-layer change, then recompute and sign the new root — all
// while holding a per-branch write lock so concurrent local callers
// serialize instead of racing to persist a root. Readers never block
// on this lock; they see whatever root was last committed.
//
// There is no teacher analogue for VersionVector comparison itself —
// it is domain logic spec.md introduces outright — but the
// "advance a counter, do the work, sign and persist the result, all
// under one lock" shape mirrors the general pattern of buffering a
// mutation behind one serialization point that recurs across the
// pack (e.g. artifact.Store's write path serializing via its own
// internal bookkeeping before a rename makes a write visible).
package branch
