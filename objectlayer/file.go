// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectlayer

import (
	"context"
	"fmt"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// NewFileId generates a fresh random file identifier. This is the
// "file_root_id" spec.md §4.5 derives block Locators from; it has no
// meaning beyond seeding those Locators and is not itself content-
// addressed (two empty files get different FileIds and therefore
// different ciphertext, which is what lets them be distinct entries
// in a directory at all).
func NewFileId() (ouicrypto.Hash, error) {
	return ouicrypto.RandomHash()
}

// ReadFile returns a file's full plaintext content.
func (s *Store) ReadFile(ctx context.Context, readKey *secret.Buffer, rootHash, fileID ouicrypto.Hash) ([]byte, error) {
	data, err := s.readBlockList(ctx, readKey, rootHash, fileID)
	if err != nil {
		return nil, fmt.Errorf("objectlayer: read file: %w", err)
	}
	return data, nil
}

// WriteFile replaces a file's entire content, creating it if it does
// not exist yet under rootHash. Returns the new index root hash.
func (s *Store) WriteFile(ctx context.Context, readKey *secret.Buffer, branchID, rootHash, fileID ouicrypto.Hash, data []byte) (ouicrypto.Hash, error) {
	newRoot, err := s.writeBlockList(ctx, readKey, branchID, rootHash, fileID, data)
	if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("objectlayer: write file: %w", err)
	}
	return newRoot, nil
}

// WriteAt writes data at offset, reading and re-encrypting any
// blocks the write straddles (spec.md §4.5). Writing past the
// current end of file zero-fills the gap.
func (s *Store) WriteAt(ctx context.Context, readKey *secret.Buffer, branchID, rootHash, fileID ouicrypto.Hash, offset int64, data []byte) (ouicrypto.Hash, error) {
	if offset < 0 {
		return ouicrypto.Hash{}, fmt.Errorf("%w: negative write offset", ouierr.InvalidArgument)
	}

	current, err := s.readBlockList(ctx, readKey, rootHash, fileID)
	if ouierr.Is(err, ouierr.EntryNotFound) {
		current = nil
	} else if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("objectlayer: write at: %w", err)
	}

	end := offset + int64(len(data))
	if int64(len(current)) < end {
		grown := make([]byte, end)
		copy(grown, current)
		current = grown
	}
	copy(current[offset:end], data)

	return s.WriteFile(ctx, readKey, branchID, rootHash, fileID, current)
}

// Truncate resizes a file to newSize, dropping trailing content or
// zero-extending it as needed.
func (s *Store) Truncate(ctx context.Context, readKey *secret.Buffer, branchID, rootHash, fileID ouicrypto.Hash, newSize int64) (ouicrypto.Hash, error) {
	if newSize < 0 {
		return ouicrypto.Hash{}, fmt.Errorf("%w: negative truncate size", ouierr.InvalidArgument)
	}

	current, err := s.readBlockList(ctx, readKey, rootHash, fileID)
	if ouierr.Is(err, ouierr.EntryNotFound) {
		current = nil
	} else if err != nil {
		return ouicrypto.Hash{}, fmt.Errorf("objectlayer: truncate: %w", err)
	}

	resized := make([]byte, newSize)
	copy(resized, current)

	return s.WriteFile(ctx, readKey, branchID, rootHash, fileID, resized)
}
