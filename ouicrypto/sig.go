// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ouicrypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouierr"
)

// ed25519SeedSize is ed25519.SeedSize, repeated here so kdf.go doesn't
// need to import crypto/ed25519 just for a constant.
const ed25519SeedSize = ed25519.SeedSize

// SignatureSize is the size in bytes of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// KeyPair is a branch's Ed25519 signing keypair. The private key is
// held in a secret.Buffer; the public key is the branch's UserId.
//
// Ed25519 is the one primitive in this package taken from the
// standard library rather than the example pack: crypto/ed25519 is
// the only Ed25519 implementation anywhere in the corpus, and
// upspin-go-upspin (considered as teacher) did not contribute a
// third-party replacement either — see DESIGN.md.
type KeyPair struct {
	private *secret.Buffer
	public  UserId
}

func keyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ouicrypto: signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)

	buffer, err := secret.NewFromBytes(append([]byte(nil), privateKey...))
	if err != nil {
		return nil, fmt.Errorf("ouicrypto: guarding signing key: %w", err)
	}

	var userID UserId
	copy(userID[:], privateKey[ed25519.SeedSize:])

	return &KeyPair{private: buffer, public: userID}, nil
}

// UserId returns the keypair's public key, i.e. the branch's UserId.
func (kp *KeyPair) UserId() UserId {
	return kp.public
}

// Sign signs message with the keypair's private key.
func (kp *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(kp.private.Bytes()), message)
}

// Close zeroes and releases the private key. Idempotent.
func (kp *KeyPair) Close() error {
	return kp.private.Close()
}

// Verify verifies that signature is a valid Ed25519 signature of
// message under userID. Returns ouierr.MalformedData (wrapped) on
// failure — signature verification failures on received data are
// always locally recoverable (spec.md §7), never fatal by themselves.
func Verify(userID UserId, message, signature []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(userID[:]), message, signature) {
		return fmt.Errorf("%w: signature verification failed", ouierr.MalformedData)
	}
	return nil
}
