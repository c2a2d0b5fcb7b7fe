// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ouicrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/ouisync-go/ouisync/lib/secret"
)

// KeySize is the size in bytes of every symmetric key in the
// ouisync-go key schedule: write keys, read keys, and session keys.
const KeySize = 32

// SaltSize is the size of the Argon2id salt stored alongside a
// repository's encrypted metadata so the same passphrase always
// re-derives the same write key for that repository.
const SaltSize = 16

var (
	hkdfInfoReadKey = []byte("ouisync.keyschedule.read.v1")
)

// argon2Time, argon2Memory, and argon2Threads are the Argon2id cost
// parameters used to derive a write key from a passphrase. These
// match the OWASP-recommended minimums for interactive use — higher
// than a server-side KDF would use, but a repository is opened
// rarely enough per process lifetime that the extra cost is not felt.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB
	argon2Threads = 4
)

// GenerateSalt returns a fresh random salt for DeriveWriteKeyFromPassphrase.
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return salt, fmt.Errorf("ouicrypto: generating salt: %w", err)
	}
	return salt, nil
}

// DeriveWriteKeyFromPassphrase derives a 32-byte write key from a
// passphrase and salt via Argon2id (spec.md §4.1 KDF). The returned
// Buffer is mlock'd and must be closed by the caller.
func DeriveWriteKeyFromPassphrase(passphrase []byte, salt [SaltSize]byte) (*secret.Buffer, error) {
	derived := argon2.IDKey(passphrase, salt[:], argon2Time, argon2Memory, argon2Threads, KeySize)
	// argon2.IDKey allocates a fresh heap slice; NewFromBytes copies it
	// into mmap-backed memory and zeroes the heap copy.
	return secret.NewFromBytes(derived)
}

// GenerateWriteKey generates a fresh random write key, for creating a
// brand-new repository rather than opening an existing passphrase-
// protected one.
func GenerateWriteKey() (*secret.Buffer, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("ouicrypto: generating write key: %w", err)
	}
	return secret.NewFromBytes(raw)
}

// DeriveReadKey derives read_key = KDF_r(write_key) via HKDF-SHA256.
// Knowledge of read_key does not reveal write_key — the asymmetry
// that distinguishes the write and read access modes (spec.md §4.1).
// writeKey is borrowed, not closed; the returned Buffer must be closed
// by the caller.
func DeriveReadKey(writeKey *secret.Buffer) (*secret.Buffer, error) {
	reader := hkdf.New(sha256.New, writeKey.Bytes(), nil, hkdfInfoReadKey)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("ouicrypto: deriving read key: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// DeriveBlindId computes blind_id = H(read_key): the value a blind
// peer uses to identify the repository/branch without ever holding
// the read key. readKey is borrowed, not closed.
func DeriveBlindId(readKey *secret.Buffer) Hash {
	return HashBlind(readKey.Bytes())
}

// DeriveRepositoryId computes repository_id = H(write_key): the value
// that identifies a repository across peers regardless of which
// access mode they hold (spec.md §4.1). Unlike blind_id, it is
// derived straight from the write key rather than the read key, so
// opening the same repository from a passphrase always reproduces
// the same id for the metadata-mismatch check in package repository,
// even before a read key would otherwise need deriving. writeKey is
// borrowed, not closed.
func DeriveRepositoryId(writeKey *secret.Buffer) RepositoryId {
	return RepositoryId(keyedHash(domainRepoId, writeKey.Bytes()))
}

// DeriveUserKeypair derives the Ed25519 signing keypair for a branch
// from its write key, via HKDF-SHA256 expansion to a 32-byte seed.
// The same write key always derives the same UserId, so a device
// that re-imports a write key resumes as the same writer rather than
// forking into a new branch. writeKey is borrowed, not closed.
func DeriveUserKeypair(writeKey *secret.Buffer) (*KeyPair, error) {
	reader := hkdf.New(sha256.New, writeKey.Bytes(), nil, []byte("ouisync.keyschedule.signing.v1"))
	seed := make([]byte, ed25519SeedSize)
	if _, err := io.ReadFull(reader, seed); err != nil {
		secret.Zero(seed)
		return nil, fmt.Errorf("ouicrypto: deriving signing seed: %w", err)
	}
	defer secret.Zero(seed)
	return keyPairFromSeed(seed)
}
