// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectlayer

import (
	"context"
	"fmt"
	"sort"

	"github.com/ouisync-go/ouisync/lib/codec"
	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
)

// EntryKind distinguishes what a directory entry names.
type EntryKind uint8

const (
	KindFile EntryKind = iota
	KindDirectory
	KindTombstone
)

// Entry is one named slot in a directory's entry map.
type Entry struct {
	Name string    `cbor:"1,keyasint"`
	Kind EntryKind `cbor:"2,keyasint"`

	// ObjectId is the file_root_id of the file or directory this
	// entry points to. Meaningless for KindTombstone.
	ObjectId ouicrypto.Hash `cbor:"3,keyasint"`

	// VersionVector is the CBOR encoding of the entry's
	// VersionVector, opaque to this package — package branch owns
	// the type and the comparison semantics (spec.md §4.6).
	VersionVector []byte `cbor:"4,keyasint"`

	// LocalSequence is a monotonically increasing counter bumped on
	// every local write to this entry, distinct from VersionVector.
	// Supplemental feature recovered from original_source/: it exists
	// purely to order entries for display (an `ls -lt`-style local
	// view), and carries no causality meaning across replicas.
	LocalSequence uint64 `cbor:"5,keyasint"`
}

type directoryPayload struct {
	Entries []Entry `cbor:"1,keyasint"`
}

// NewDirectoryId generates a fresh random directory identifier, the
// same way NewFileId does for files — a directory's block list is
// addressed and encrypted exactly like a file's.
func NewDirectoryId() (ouicrypto.Hash, error) {
	return ouicrypto.RandomHash()
}

// ReadDirectory decodes the entry map stored under dirID. Entries are
// always returned sorted by Name, matching how WriteDirectory stores
// them (spec.md §4.5's "canonical serialization ... sorted by name").
func (s *Store) ReadDirectory(ctx context.Context, readKey *secret.Buffer, rootHash, dirID ouicrypto.Hash) ([]Entry, error) {
	data, err := s.readBlockList(ctx, readKey, rootHash, dirID)
	if err != nil {
		return nil, fmt.Errorf("objectlayer: read directory: %w", err)
	}

	var payload directoryPayload
	if len(data) > 0 {
		if err := codec.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("objectlayer: decoding directory: %w", err)
		}
	}
	return payload.Entries, nil
}

// WriteDirectory re-encodes and commits entries as dirID's content,
// creating the directory if it does not exist yet under rootHash.
// entries is sorted by Name as a side effect.
func (s *Store) WriteDirectory(ctx context.Context, readKey *secret.Buffer, branchID, rootHash, dirID ouicrypto.Hash, entries []Entry) (ouicrypto.Hash, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	data, err := codec.Marshal(directoryPayload{Entries: entries})
	if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("objectlayer: encoding directory: %w", err)
	}

	newRoot, err := s.writeBlockList(ctx, readKey, branchID, rootHash, dirID, data)
	if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("objectlayer: write directory: %w", err)
	}
	return newRoot, nil
}

// NewEmptyDirectory materializes an empty directory at dirID: one
// block holding a serialized empty entry map, not the absence of a
// block (spec.md §4.5).
func (s *Store) NewEmptyDirectory(ctx context.Context, readKey *secret.Buffer, branchID, rootHash, dirID ouicrypto.Hash) (ouicrypto.Hash, error) {
	return s.WriteDirectory(ctx, readKey, branchID, rootHash, dirID, nil)
}
