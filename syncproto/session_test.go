// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncproto

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

func pipeSessions(t *testing.T, serverHandler, clientHandler Handler) (client, server *Session) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	client = NewSession(clientConn, clientHandler)
	server = NewSession(serverConn, serverHandler)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		clientConn.Close()
		serverConn.Close()
	})

	go client.Run(ctx)
	go server.Run(ctx)
	return client, server
}

func TestSessionRequestRootRoundTrip(t *testing.T) {
	var userID ouicrypto.UserId
	userID[0] = 7
	want := RootMessage{
		UserId:        userID,
		VersionVector: []byte{1, 2, 3},
		RootHash:      ouicrypto.Hash{4, 5, 6},
		Signature:     []byte("sig"),
	}

	serverHandler := Handler{
		OnRootRequest: func(requested ouicrypto.UserId) (RootMessage, bool) {
			if requested != userID {
				return RootMessage{}, false
			}
			return want, true
		},
	}

	client, _ := pipeSessions(t, serverHandler, Handler{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := client.RequestRoot(ctx, userID)
	if err != nil {
		t.Fatalf("RequestRoot: %v", err)
	}
	if got.UserId != want.UserId || got.RootHash != want.RootHash || string(got.Signature) != string(want.Signature) {
		t.Fatalf("RequestRoot = %+v, want %+v", got, want)
	}
}

func TestSessionRequestChildrenAndBlock(t *testing.T) {
	hash := ouicrypto.Hash{1, 2, 3}
	encoded := []byte("node-bytes")

	locator := ouicrypto.Hash{9}
	blockID := ouicrypto.Hash{8}
	nonce := []byte("nonce-bytes")
	ciphertext := []byte("ciphertext-bytes")

	serverHandler := Handler{
		OnChildrenRequest: func(h ouicrypto.Hash) ([]byte, bool) {
			if h != hash {
				return nil, false
			}
			return encoded, true
		},
		OnBlockRequest: func(l, b ouicrypto.Hash) ([]byte, []byte, bool) {
			if l != locator || b != blockID {
				return nil, nil, false
			}
			return nonce, ciphertext, true
		},
	}

	client, _ := pipeSessions(t, serverHandler, Handler{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	gotEncoded, err := client.RequestChildren(ctx, hash)
	if err != nil {
		t.Fatalf("RequestChildren: %v", err)
	}
	if string(gotEncoded) != string(encoded) {
		t.Fatalf("RequestChildren = %q, want %q", gotEncoded, encoded)
	}

	gotNonce, gotCiphertext, err := client.RequestBlock(ctx, locator, blockID)
	if err != nil {
		t.Fatalf("RequestBlock: %v", err)
	}
	if string(gotNonce) != string(nonce) || string(gotCiphertext) != string(ciphertext) {
		t.Fatalf("RequestBlock = (%q, %q), want (%q, %q)", gotNonce, gotCiphertext, nonce, ciphertext)
	}
}

func TestSessionInterestAndRootAnnounceAndHeartbeat(t *testing.T) {
	repoID := ouicrypto.Hash{3, 1, 4}
	announced := make(chan RootMessage, 1)
	heartbeats := make(chan struct{}, 1)

	serverHandler := Handler{
		OnInterest: func(r ouicrypto.Hash) bool { return r == repoID },
		OnRootAnnounce: func(msg RootMessage) {
			announced <- msg
		},
		OnHeartbeat: func() {
			heartbeats <- struct{}{}
		},
	}

	client, _ := pipeSessions(t, serverHandler, Handler{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.RequestInterest(ctx, repoID); err != nil {
		t.Fatalf("RequestInterest: %v", err)
	}

	msg := RootMessage{RootHash: ouicrypto.Hash{1}}
	if err := client.SendRootAnnounce(msg); err != nil {
		t.Fatalf("SendRootAnnounce: %v", err)
	}
	select {
	case got := <-announced:
		if got.RootHash != msg.RootHash {
			t.Fatalf("announced root hash = %v, want %v", got.RootHash, msg.RootHash)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for root announce")
	}

	if err := client.SendHeartbeat(); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	select {
	case <-heartbeats:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestSessionUnrecognizedKindEndsSession(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		serverConn.Close()
	})

	server := NewSession(serverConn, Handler{})

	done := make(chan error, 1)
	go func() {
		done <- server.Run(context.Background())
	}()

	if err := writeEnvelope(clientConn, envelope{Kind: Kind(255)}); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Run to return an error for an unrecognized kind")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to end")
	}
}

func TestSessionRequestTimesOutWithoutHandler(t *testing.T) {
	client, _ := pipeSessions(t, Handler{}, Handler{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var userID ouicrypto.UserId
	_, err := client.RequestRoot(ctx, userID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
