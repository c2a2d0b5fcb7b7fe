// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ouicrypto implements the cryptographic primitives and key
// schedule of spec.md §4.1: BLAKE3 domain-separated hashing, an
// XChaCha20-Poly1305 AEAD with locator-derived nonces, Ed25519
// signatures, and the Argon2id/HKDF write→read→blind key schedule.
//
// The approach mirrors the teacher's lib/artifactstore/encrypt.go: a
// fixed key size, HKDF-SHA256 derivation chains keyed by domain-
// specific info strings, an encrypted-blob layout of
// version‖nonce‖ciphertext‖tag with the identity hash bound in as
// AAD, and key material held in lib/secret.Buffer so it is mlock'd
// and zeroed on Close. The one deliberate departure: block encryption
// here uses a nonce *derived* from the Locator (HKDF, not random),
// because spec.md Invariant 5 requires two replicas to converge to
// byte-identical ciphertext for byte-identical plaintext at the same
// logical slot — a property random nonces cannot provide. This is a
// conscious trade against the usual "never reuse a nonce with
// different plaintext" rule: at a stable locator Ouisync's content
// addressing means the plaintext converges too, and the design
// accepts the narrow leak during the transient window where it
// doesn't (see spec.md §9, Invariant 5 testable property).
package ouicrypto
