// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ouicrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouierr"
)

// BlockPlaintextSize is the fixed plaintext payload size of a block
// (spec.md §3), recovered from original_source/ — see SPEC_FULL.md §3.
const BlockPlaintextSize = 32 * 1024

// blockVersion is the version byte prepended to AAD for block
// ciphertext, mirroring the teacher's EncryptedBlobVersion.
const blockVersion byte = 0x01

// nonceInfo is the HKDF info string used to derive a block's nonce
// from the read key and its Locator.
var nonceInfo = []byte("ouisync.block.nonce.v1")

// EncryptBlock encrypts a block's plaintext under readKey, using a
// nonce deterministically derived from readKey and locator so that
// two replicas holding the same read key and writing identical
// plaintext at the same Locator converge to byte-identical ciphertext
// (spec.md Invariant 5). blockId is bound in as AAD so ciphertext
// cannot be replayed under a different BlockId.
func EncryptBlock(readKey *secret.Buffer, locator Locator, blockID Hash, plaintext []byte) (nonce [chacha20poly1305.NonceSizeX]byte, ciphertext []byte, err error) {
	derived, err := deriveNonce(readKey, locator)
	if err != nil {
		return nonce, nil, err
	}
	nonce = derived

	aead, err := chacha20poly1305.NewX(readKey.Bytes())
	if err != nil {
		return nonce, nil, fmt.Errorf("ouicrypto: creating AEAD cipher: %w", err)
	}

	aad := buildAAD(blockVersion, blockID)
	ciphertext = aead.Seal(nil, nonce[:], plaintext, aad)
	return nonce, ciphertext, nil
}

// DecryptBlock decrypts a block's ciphertext under readKey, verifying
// it against blockId as AAD. The caller is still responsible for the
// separate content-address check H(plaintext) == blockId (spec.md §8
// testable property) — AEAD authentication alone only proves the
// ciphertext wasn't tampered with or swapped between blocks, not that
// the BlockId was computed correctly by whoever supplied it.
func DecryptBlock(readKey *secret.Buffer, blockID Hash, nonce [chacha20poly1305.NonceSizeX]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(readKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("ouicrypto: creating AEAD cipher: %w", err)
	}

	aad := buildAAD(blockVersion, blockID)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: block decryption failed: %v", ouierr.MalformedData, err)
	}
	return plaintext, nil
}

func deriveNonce(readKey *secret.Buffer, locator Locator) ([chacha20poly1305.NonceSizeX]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte

	info := make([]byte, 0, len(nonceInfo)+len(locator))
	info = append(info, nonceInfo...)
	info = append(info, locator[:]...)

	reader := hkdf.New(sha256.New, readKey.Bytes(), nil, info)
	if _, err := io.ReadFull(reader, nonce[:]); err != nil {
		return nonce, fmt.Errorf("ouicrypto: deriving block nonce: %w", err)
	}
	return nonce, nil
}

func buildAAD(version byte, identity Hash) []byte {
	aad := make([]byte, 1+len(identity))
	aad[0] = version
	copy(aad[1:], identity[:])
	return aad
}
