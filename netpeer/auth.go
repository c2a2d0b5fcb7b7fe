// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netpeer

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

// authChannelLabel is the data channel label reserved for the mutual
// authentication handshake; both peers route it to runPeerAuth instead
// of handing it to the caller as an application stream.
const authChannelLabel = "auth"

const authNonceSize = 32

// authTimeout bounds how long an inbound application data channel
// waits for its connection's handshake to succeed; a channel still
// waiting when it expires is closed.
const authTimeout = 10 * time.Second

// PeerAuthenticator binds a Peer's WebRTC connections to Ed25519
// identities derived from the Ouisync key schedule (spec.md §4.1): a
// PeerConnection is only handed to the caller once both sides have
// proven possession of the private key behind the UserId they claim.
type PeerAuthenticator interface {
	// Sign signs message with the local identity's private key.
	Sign(message []byte) []byte

	// VerifyPeer verifies that signature over message was produced by
	// peer's private key.
	VerifyPeer(peer ouicrypto.UserId, message, signature []byte) error
}

// keyPairAuthenticator adapts an *ouicrypto.KeyPair (plus the
// package-level Verify function) to PeerAuthenticator — the
// authenticator every netpeer.Peer uses in practice, since a peer's
// identity on the wire is exactly its branch signing key.
type keyPairAuthenticator struct {
	keyPair *ouicrypto.KeyPair
}

func (a keyPairAuthenticator) Sign(message []byte) []byte {
	return a.keyPair.Sign(message)
}

func (a keyPairAuthenticator) VerifyPeer(peer ouicrypto.UserId, message, signature []byte) error {
	return ouicrypto.Verify(peer, message, signature)
}

// runPeerAuth executes the mutual authentication protocol on channel.
// Both sides run this function concurrently on the same data channel:
//
//  1. Send a random 32-byte nonce.
//  2. Read the peer's nonce.
//  3. Sign (peerNonce || peer) — binding the response to the specific
//     challenger's claimed identity.
//  4. Send the signature.
//  5. Read the peer's signature.
//  6. Verify it against (ownNonce || self) using the peer's public key.
//
// Binding the UserId into the signed message prevents a valid
// signature collected for peer A from being replayed against peer B.
//
// Write and read are interleaved using a background writer goroutine
// to avoid deadlocking on a synchronous channel, where Write blocks
// until the peer Reads: without a concurrent writer, both sides would
// block on their initial Write at once.
func runPeerAuth(channel io.ReadWriter, authenticator PeerAuthenticator, self, peer ouicrypto.UserId) error {
	nonce := make([]byte, authNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("netpeer: generating auth nonce: %w", err)
	}

	writeErrors := make(chan error, 1)
	signatureToSend := make(chan []byte, 1)

	go func() {
		if _, err := channel.Write(nonce); err != nil {
			writeErrors <- fmt.Errorf("sending auth nonce: %w", err)
			return
		}
		signature, ok := <-signatureToSend
		if !ok {
			return
		}
		if _, err := channel.Write(signature); err != nil {
			writeErrors <- fmt.Errorf("sending auth signature: %w", err)
			return
		}
		writeErrors <- nil
	}()

	peerNonce := make([]byte, authNonceSize)
	if _, err := io.ReadFull(channel, peerNonce); err != nil {
		close(signatureToSend)
		return fmt.Errorf("netpeer: reading peer nonce: %w", err)
	}

	signedMessage := append(append([]byte(nil), peerNonce...), peer[:]...)
	signatureToSend <- authenticator.Sign(signedMessage)

	peerSignature := make([]byte, ouicrypto.SignatureSize)
	if _, err := io.ReadFull(channel, peerSignature); err != nil {
		return fmt.Errorf("netpeer: reading peer signature: %w", err)
	}

	if err := <-writeErrors; err != nil {
		return fmt.Errorf("netpeer: %w", err)
	}

	verifyMessage := append(append([]byte(nil), nonce...), self[:]...)
	if err := authenticator.VerifyPeer(peer, verifyMessage, peerSignature); err != nil {
		return fmt.Errorf("netpeer: peer %x failed authentication: %w", peer, err)
	}

	return nil
}
