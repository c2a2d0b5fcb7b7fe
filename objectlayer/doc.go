// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectlayer implements files and directories as logical
// block lists on top of package blockstore and package index.
//
// Both a file's content and a directory's CBOR-encoded entry map are
// stored the same way: as a sequence of fixed-size plaintext blocks
// whose ith Locator is ouicrypto.HashLocator(objectID, i), with the
// first block's plaintext prefixed by an 8-byte big-endian length so
// a reopened object knows its size before reading the rest (spec.md
// §4.5). A mutation re-derives every affected block's ciphertext and
// writes it through a sequence of blockstore/index calls. Each call
// commits on its own: neither this package nor its caller (package
// branch) wraps the sequence in one transaction, so a failure part way
// leaves the calls already made committed. Because blocks and trie
// nodes are content-addressed, those leftovers are not reachable from
// the branch root until a new root is persisted.
//
// objectlayer knows nothing about VersionVector, signing, or which
// UserId owns a branch — those belong to package branch, which calls
// objectlayer inside its own mutation sequence and stamps the result
// with a freshly-signed root. objectlayer's Entry.VersionVector field
// is opaque bytes to this package for exactly that reason.
package objectlayer
