// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockstore is the content-addressed block store backing a
// single repository. It persists encrypted block ciphertext keyed by
// BlockId, and a separate reachability table (block_refs) recording
// which (branch, locator) pairs currently point at which block, so
// that GarbageCollect can reclaim blocks no branch references any
// more.
//
// The package is grounded on two teacher sources: lib/artifact/store.go
// for the write/dedup/atomicity shape (here a single SQLite IMMEDIATE
// transaction stands in for store.go's temp-file-then-rename dance —
// both exist to make one logical mutation indivisible), and
// cmd/bureau-telemetry-service/store.go for how to drive sqlitepool
// with OnConnect schema creation and sqlitex.Execute/ImmediateTransaction.
//
// Encryption, nonce derivation, and hashing are out of scope here — the
// caller (package objectlayer) encrypts with package ouicrypto before
// calling Put, and decrypts after calling Get. blockstore itself never
// touches plaintext.
package blockstore
