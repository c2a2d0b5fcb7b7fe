// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package index implements a repository's per-branch trie: a
// content-addressed, 256-ary map from Locator to BlockId. Internal
// node bytes are CBOR-encoded and persisted keyed by their own hash,
// not by parent pointer (two different logical trees sharing identical
// bytes below some node share that node's row in index_nodes
// automatically, with no extra bookkeeping).
//
// A branch's signed root — (VersionVector, UserId, Signature) plus the
// root node hash — is persisted separately in the branches table.
// index itself does not interpret the VersionVector or verify the
// signature; it has no notion of causal ordering. That logic belongs
// to package branch, which owns VersionVector, and package reconcile,
// which validates roots received from peers before calling Insert/Diff
// on them (spec.md §4.3's three-step validation: structural, signature,
// VersionVector monotonicity — only the first of which index performs,
// by requiring a decoded node to re-encode to its exact input bytes).
package index
