// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netpeer

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ouisync-go/ouisync/lib/testutil"
	"github.com/ouisync-go/ouisync/ouicrypto"
)

func newTestKeyPair(t *testing.T) *ouicrypto.KeyPair {
	t.Helper()
	writeKey, err := ouicrypto.GenerateWriteKey()
	if err != nil {
		t.Fatalf("generating write key: %v", err)
	}
	keyPair, err := ouicrypto.DeriveUserKeypair(writeKey)
	if err != nil {
		t.Fatalf("deriving user keypair: %v", err)
	}
	return keyPair
}

func TestPeerDialAcceptRoundTrip(t *testing.T) {
	signaler := NewMemorySignaler()

	aliceKeys := newTestKeyPair(t)
	bobKeys := newTestKeyPair(t)

	alice := NewPeer(aliceKeys.UserId(), aliceKeys, signaler, DefaultICEConfig(), nil)
	bob := NewPeer(bobKeys.UserId(), bobKeys, signaler, DefaultICEConfig(), nil)
	defer alice.Close()
	defer bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	go alice.Serve(ctx)
	go bob.Serve(ctx)

	dialErr := make(chan error, 1)
	var dialConn io.ReadWriteCloser
	go func() {
		conn, err := alice.Dial(ctx, bobKeys.UserId())
		dialConn = conn
		dialErr <- err
	}()

	acceptCtx, acceptCancel := context.WithTimeout(ctx, 20*time.Second)
	defer acceptCancel()
	acceptConn, fromPeer, err := bob.Accept(acceptCtx)
	if err != nil {
		t.Fatalf("bob.Accept: %v", err)
	}
	defer acceptConn.Close()

	if err := testutil.RequireReceive(t, dialErr, 20*time.Second, "waiting for alice.Dial to complete"); err != nil {
		t.Fatalf("alice.Dial: %v", err)
	}
	defer dialConn.Close()

	if fromPeer != aliceKeys.UserId() {
		t.Fatalf("Accept reported peer %x, want %x", fromPeer, aliceKeys.UserId())
	}

	message := []byte("hello from alice")
	if _, err := dialConn.Write(message); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buffer := make([]byte, len(message))
	if _, err := io.ReadFull(acceptConn, buffer); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buffer) != string(message) {
		t.Fatalf("got %q, want %q", buffer, message)
	}
}

func TestPeerRejectsImpersonatedIdentity(t *testing.T) {
	signaler := NewMemorySignaler()

	rogueKeys := newTestKeyPair(t)
	bobKeys := newTestKeyPair(t)

	// rogue signs every challenge with its own private key but claims
	// rogueKeys's UserId as self — a mismatched identity bob must catch
	// during runPeerAuth's signature verification step.
	impostorKeys := newTestKeyPair(t)
	rogue := NewPeer(rogueKeys.UserId(), impostorKeys, signaler, DefaultICEConfig(), nil)
	bob := NewPeer(bobKeys.UserId(), bobKeys, signaler, DefaultICEConfig(), nil)
	defer rogue.Close()
	defer bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	go rogue.Serve(ctx)
	go bob.Serve(ctx)

	go rogue.Dial(ctx, bobKeys.UserId())

	acceptCtx, acceptCancel := context.WithTimeout(ctx, 5*time.Second)
	defer acceptCancel()
	_, _, err := bob.Accept(acceptCtx)
	if err == nil {
		t.Fatalf("bob.Accept succeeded despite rogue's mismatched signing key, want timeout/failure")
	}
}
