// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netpeer is the one concrete transport ouisync-go ships:
// authenticated WebRTC data channels, adapted from the teacher's
// transport/webrtc.go and transport/peer_auth.go. Package syncproto
// only ever requires an io.ReadWriteCloser, so nothing in the sync
// protocol or the repository façade depends on this package — it
// exists to give a real, runnable peer for tests to dial and accept
// across. cmd/ouisyncd does not use it.
//
// A Peer identifies itself by ouicrypto.UserId (derived from its
// write key, spec.md §4.1) rather than the teacher's machine
// localpart, and authenticates new PeerConnections with a mutual
// Ed25519 challenge-response handshake keyed off the same identity
// before handing any data channel to the caller — a rogue peer that
// merely gains access to signaling cannot impersonate a known UserId.
//
// Signaling (SDP offer/answer exchange) is abstracted behind the
// Signaler interface; MemorySignaler, an in-process implementation,
// is what the tests use. A
// production deployment would swap in a rendezvous server, matching
// spec.md's explicit silence on discovery (§1 Non-goals).
package netpeer
