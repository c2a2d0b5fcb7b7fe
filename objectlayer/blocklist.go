// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectlayer

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ouisync-go/ouisync/blockstore"
	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// headerSize is the length in bytes of the size prefix stored in an
// object's first block.
const headerSize = 8

// payloadCap0 is the number of content bytes the first block can hold
// once the size header is accounted for.
const payloadCap0 = ouicrypto.BlockPlaintextSize - headerSize

// Store composes a repository's blockstore and index to read and
// write file/directory block lists.
type Store struct {
	blocks *blockstore.Store
	nodes  *index.Store
}

// New returns a Store backed by the given blockstore and index.
func New(blocks *blockstore.Store, nodes *index.Store) *Store {
	return &Store{blocks: blocks, nodes: nodes}
}

// splitIntoBlocks lays data out as a sequence of block plaintexts,
// the first prefixed by data's length. Always returns at least one
// block, even for empty data — an empty object is one block whose
// header reads zero, not the absence of a block (spec.md §4.5).
func splitIntoBlocks(data []byte) [][]byte {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header, uint64(len(data)))

	firstPayload := data
	if len(firstPayload) > payloadCap0 {
		firstPayload = data[:payloadCap0]
	}
	block0 := make([]byte, 0, headerSize+len(firstPayload))
	block0 = append(block0, header...)
	block0 = append(block0, firstPayload...)
	blocks := [][]byte{block0}

	rest := data[len(firstPayload):]
	for len(rest) > 0 {
		n := ouicrypto.BlockPlaintextSize
		if n > len(rest) {
			n = len(rest)
		}
		blocks = append(blocks, append([]byte(nil), rest[:n]...))
		rest = rest[n:]
	}
	return blocks
}

// blockCountForSize returns how many blocks splitIntoBlocks would
// produce for content of the given length, without materializing it.
func blockCountForSize(size int64) int {
	if size <= payloadCap0 {
		return 1
	}
	remaining := size - payloadCap0
	count := remaining / ouicrypto.BlockPlaintextSize
	if remaining%ouicrypto.BlockPlaintextSize != 0 {
		count++
	}
	return 1 + int(count)
}

// decryptVerified reads, decrypts, and content-address-verifies the
// block at locator. Returns ouierr.EntryNotFound if the index has no
// entry there.
func (s *Store) decryptVerified(ctx context.Context, readKey *secret.Buffer, rootHash, locator ouicrypto.Hash) ([]byte, error) {
	blockID, found, err := s.nodes.Lookup(ctx, rootHash, locator)
	if err != nil {
		return nil, fmt.Errorf("objectlayer: looking up block: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: no block at locator", ouierr.EntryNotFound)
	}

	nonce, ciphertext, err := s.blocks.Get(ctx, blockID)
	if err != nil {
		return nil, fmt.Errorf("objectlayer: reading block: %w", err)
	}

	plaintext, err := ouicrypto.DecryptBlock(readKey, blockID, nonce, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("objectlayer: decrypting block: %w", err)
	}

	if ouicrypto.HashBlock(plaintext) != blockID {
		return nil, fmt.Errorf("%w: block content does not match its BlockId", ouierr.MalformedData)
	}

	return plaintext, nil
}

// objectSize returns the size recorded in an object's first block,
// and false if the object does not exist yet under rootHash.
func (s *Store) objectSize(ctx context.Context, readKey *secret.Buffer, rootHash, objectID ouicrypto.Hash) (int64, bool, error) {
	plaintext, err := s.decryptVerified(ctx, readKey, rootHash, ouicrypto.HashLocator(objectID, 0))
	if ouierr.Is(err, ouierr.EntryNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(plaintext) < headerSize {
		return 0, false, fmt.Errorf("%w: block 0 shorter than size header", ouierr.MalformedData)
	}
	return int64(binary.BigEndian.Uint64(plaintext[:headerSize])), true, nil
}

// readBlockList reconstructs the full plaintext of the object rooted
// at objectID. Returns ouierr.EntryNotFound if the object does not
// exist under rootHash.
func (s *Store) readBlockList(ctx context.Context, readKey *secret.Buffer, rootHash, objectID ouicrypto.Hash) ([]byte, error) {
	first, err := s.decryptVerified(ctx, readKey, rootHash, ouicrypto.HashLocator(objectID, 0))
	if err != nil {
		return nil, err
	}
	if len(first) < headerSize {
		return nil, fmt.Errorf("%w: block 0 shorter than size header", ouierr.MalformedData)
	}
	size := int64(binary.BigEndian.Uint64(first[:headerSize]))

	out := make([]byte, 0, size)
	out = append(out, first[headerSize:]...)

	for i := 1; int64(len(out)) < size; i++ {
		plaintext, err := s.decryptVerified(ctx, readKey, rootHash, ouicrypto.HashLocator(objectID, uint64(i)))
		if err != nil {
			return nil, fmt.Errorf("objectlayer: reading block %d of object: %w", i, err)
		}
		out = append(out, plaintext...)
	}

	if int64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

// writeBlockList re-encrypts and commits every block data maps to,
// then unreferences any tail blocks left over from a larger previous
// version of the object. Returns the index root hash after all
// writes. Unchanged blocks re-encrypt to byte-identical ciphertext
// (the nonce is deterministic per (readKey, locator)) so Put on them
// is a no-op — rewriting the whole object on every mutation costs CPU
// but never storage, which is the tradeoff this package makes instead
// of tracking which blocks actually changed.
func (s *Store) writeBlockList(ctx context.Context, readKey *secret.Buffer, branchID, rootHash, objectID ouicrypto.Hash, data []byte) (ouicrypto.Hash, error) {
	oldSize, _, err := s.objectSize(ctx, readKey, rootHash, objectID)
	if err != nil {
		return ouicrypto.Hash{}, err
	}

	newBlocks := splitIntoBlocks(data)
	currentRoot := rootHash

	for i, plaintext := range newBlocks {
		locator := ouicrypto.HashLocator(objectID, uint64(i))
		blockID := ouicrypto.HashBlock(plaintext)

		nonce, ciphertext, err := ouicrypto.EncryptBlock(readKey, locator, blockID, plaintext)
		if err != nil {
			return ouicrypto.Hash{}, fmt.Errorf("objectlayer: encrypting block %d: %w", i, err)
		}
		if err := s.blocks.Put(ctx, blockID, nonce, ciphertext); err != nil {
			return ouicrypto.Hash{}, fmt.Errorf("objectlayer: storing block %d: %w", i, err)
		}
		if err := s.blocks.Reference(ctx, branchID, locator, blockID); err != nil {
			return ouicrypto.Hash{}, fmt.Errorf("objectlayer: referencing block %d: %w", i, err)
		}
		currentRoot, err = s.nodes.Insert(ctx, currentRoot, locator, blockID)
		if err != nil {
			return ouicrypto.Hash{}, fmt.Errorf("objectlayer: indexing block %d: %w", i, err)
		}
	}

	oldBlockCount := blockCountForSize(oldSize)
	for i := len(newBlocks); i < oldBlockCount; i++ {
		locator := ouicrypto.HashLocator(objectID, uint64(i))
		currentRoot, err = s.nodes.Insert(ctx, currentRoot, locator, ouicrypto.Hash{})
		if err != nil {
			return ouicrypto.Hash{}, fmt.Errorf("objectlayer: removing tail block %d: %w", i, err)
		}
		if err := s.blocks.Unreference(ctx, branchID, locator); err != nil {
			return ouicrypto.Hash{}, fmt.Errorf("objectlayer: unreferencing tail block %d: %w", i, err)
		}
	}

	return currentRoot, nil
}
