// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ouicrypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Hash is a 256-bit BLAKE3 digest. BlockId, Locator, and index node
// hashes are all this type.
type Hash [32]byte

// Locator is the logical address of a block inside a file: a
// deterministic function of the file's root hash and the block's
// sequence number (spec.md §3, §4.5).
type Locator = Hash

// UserId is an Ed25519 public key identifying one writer.
type UserId [32]byte

// RepositoryId is derived from a repository's write key and
// identifies the repository across peers.
type RepositoryId [32]byte

// Domain is a 32-byte BLAKE3 key used purely for domain separation:
// the same input bytes hashed under two different Domains never
// collide. Domain values are not secret — they are fixed, public
// constants, inspectable in hex dumps, exactly like the teacher's
// domainKey constants in lib/artifact/hash.go.
type Domain [32]byte

func newDomain(tag string) Domain {
	var d Domain
	copy(d[:], tag)
	return d
}

var (
	domainBlock     = newDomain("ouisync.block.v1")
	domainLocator   = newDomain("ouisync.locator.v1")
	domainIndexNode = newDomain("ouisync.index.node.v1")
	domainBlind     = newDomain("ouisync.blind.v1")
	domainRepoId    = newDomain("ouisync.repository.v1")
)

// HashBlock computes BlockId = H(plaintext), the content address of a
// block (spec.md §3).
func HashBlock(plaintext []byte) Hash {
	return keyedHash(domainBlock, plaintext)
}

// HashLocator derives the Locator of the blockIndex'th block of the
// file rooted at fileRoot: Locator = H(domain, fileRoot ‖ blockIndex).
func HashLocator(fileRoot Hash, blockIndex uint64) Locator {
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], blockIndex)
	hasher := newKeyedHasher(domainLocator)
	hasher.Write(fileRoot[:])
	hasher.Write(indexBytes[:])
	return sumHash(hasher)
}

// HashIndexNode computes the content-addressed hash of an encoded
// index node's bytes (package index). Node hashes are cache keys, not
// parent pointers — the teacher's "arena + index for Merkle nodes"
// idiom (lib/artifact's container/chunk caching) applied to the trie.
func HashIndexNode(encodedNode []byte) Hash {
	return keyedHash(domainIndexNode, encodedNode)
}

// HashBlind computes blind_id = H(read_key): a value any peer can
// compute from the read key without revealing it, and which does not
// reveal the write key (spec.md §4.1 key schedule asymmetry).
func HashBlind(readKey []byte) Hash {
	return keyedHash(domainBlind, readKey)
}

// RandomHash returns a cryptographically random Hash-shaped value. It
// is used to mint identifiers that must be unpredictable but are not
// themselves content addresses, such as a new file's file_root_id
// (package objectlayer) or a fresh RepositoryId salt.
func RandomHash() (Hash, error) {
	var hash Hash
	if _, err := io.ReadFull(rand.Reader, hash[:]); err != nil {
		return hash, fmt.Errorf("ouicrypto: generating random hash: %w", err)
	}
	return hash, nil
}

// FormatHash returns the hex-encoded string representation of a hash.
func FormatHash(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("ouicrypto: parsing hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("ouicrypto: hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

func keyedHash(domain Domain, data []byte) Hash {
	hasher := newKeyedHasher(domain)
	hasher.Write(data)
	return sumHash(hasher)
}

func newKeyedHasher(domain Domain) *blake3.Hasher {
	hasher, err := blake3.NewKeyed(domain[:])
	if err != nil {
		panic("ouicrypto: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

func sumHash(hasher *blake3.Hasher) Hash {
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
