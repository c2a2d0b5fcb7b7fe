// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"testing"

	"github.com/ouisync-go/ouisync/blockstore"
	"github.com/ouisync-go/ouisync/branch"
	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

func openTestIndex(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Open(index.Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func openTestBlocks(t *testing.T) *blockstore.Store {
	t.Helper()
	store, err := blockstore.Open(blockstore.Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// signedRoot builds an index.RootRecord the way package branch would,
// without importing its unexported signingMessage helper: the
// signature covers userID ‖ rootHash ‖ vvBytes, exactly as
// branch.VerifyRoot expects.
func signedRoot(t *testing.T, keyPair *ouicrypto.KeyPair, vv branch.VersionVector, rootHash ouicrypto.Hash) index.RootRecord {
	t.Helper()
	vvBytes, err := branch.EncodeVersionVector(vv)
	if err != nil {
		t.Fatalf("EncodeVersionVector: %v", err)
	}
	userID := keyPair.UserId()
	msg := make([]byte, 0, len(userID)+len(rootHash)+len(vvBytes))
	msg = append(msg, userID[:]...)
	msg = append(msg, rootHash[:]...)
	msg = append(msg, vvBytes...)
	signature := keyPair.Sign(msg)
	return index.RootRecord{
		UserId:             userID,
		VersionVectorBytes: vvBytes,
		RootHash:           rootHash,
		Signature:          signature,
	}
}

// collectNodes walks a locally fully-resolved tree and returns every
// node's encoded bytes, simulating the set of Children responses a
// real peer would eventually send for that root.
func collectNodes(t *testing.T, nodes *index.Store, hash ouicrypto.Hash, depth int, out map[ouicrypto.Hash][]byte) {
	t.Helper()
	if depth == 32 || hash == (ouicrypto.Hash{}) {
		return
	}
	node, err := nodes.GetNode(context.Background(), hash)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	encoded, err := index.EncodeNode(node)
	if err != nil {
		t.Fatalf("EncodeNode: %v", err)
	}
	out[hash] = encoded
	for _, child := range node.Children {
		collectNodes(t, nodes, child, depth+1, out)
	}
}

func TestEngineAbsorbReportsRootAsMissingThenResolvesAfterInstall(t *testing.T) {
	ctx := context.Background()

	writeKey, err := ouicrypto.GenerateWriteKey()
	if err != nil {
		t.Fatalf("GenerateWriteKey: %v", err)
	}
	keyPair, err := ouicrypto.DeriveUserKeypair(writeKey)
	if err != nil {
		t.Fatalf("DeriveUserKeypair: %v", err)
	}
	readKey, err := ouicrypto.DeriveReadKey(writeKey)
	if err != nil {
		t.Fatalf("DeriveReadKey: %v", err)
	}

	remoteNodes := openTestIndex(t)
	remoteBlocks := openTestBlocks(t)

	var rootHash ouicrypto.Hash
	for i := 0; i < 3; i++ {
		var locator ouicrypto.Locator
		locator[0] = byte(i)
		plaintext := []byte{byte(i), byte(i), byte(i)}
		blockID := ouicrypto.HashBlock(plaintext)
		nonce, ciphertext, err := ouicrypto.EncryptBlock(readKey, locator, blockID, plaintext)
		if err != nil {
			t.Fatalf("EncryptBlock: %v", err)
		}
		if err := remoteBlocks.Put(ctx, blockID, nonce, ciphertext); err != nil {
			t.Fatalf("Put block: %v", err)
		}
		rootHash, err = remoteNodes.Insert(ctx, rootHash, locator, blockID)
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	vv := branch.VersionVector{keyPair.UserId(): 1}
	record := signedRoot(t, keyPair, vv, rootHash)

	localNodes := openTestIndex(t)
	localBlocks := openTestBlocks(t)
	engine := NewEngine(Config{Blocks: localBlocks, Nodes: localNodes, ReadKey: readKey})

	result, err := engine.Absorb(ctx, record)
	if err != nil {
		t.Fatalf("Absorb: %v", err)
	}
	if len(result.MissingNodes) != 1 || result.MissingNodes[0] != rootHash {
		t.Fatalf("expected only the root hash missing, got %+v", result.MissingNodes)
	}
	if len(result.MissingBlocks) != 0 {
		t.Fatalf("expected no missing blocks yet (root unresolved), got %+v", result.MissingBlocks)
	}

	allNodes := make(map[ouicrypto.Hash][]byte)
	collectNodes(t, remoteNodes, rootHash, 0, allNodes)
	for hash, encoded := range allNodes {
		if err := engine.AcceptNode(ctx, keyPair.UserId(), hash, encoded); err != nil {
			t.Fatalf("AcceptNode: %v", err)
		}
	}

	result, err = engine.Pending(ctx, keyPair.UserId())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(result.MissingNodes) != 0 {
		t.Fatalf("expected no missing nodes after installing the full tree, got %+v", result.MissingNodes)
	}
	if len(result.MissingBlocks) != 3 {
		t.Fatalf("expected 3 missing blocks, got %d", len(result.MissingBlocks))
	}

	for _, entry := range result.MissingBlocks {
		nonce, ciphertext, err := remoteBlocks.Get(ctx, entry.BlockId)
		if err != nil {
			t.Fatalf("remote Get: %v", err)
		}
		if err := engine.AcceptBlock(ctx, keyPair.UserId(), entry.Locator, entry.BlockId, nonce, ciphertext); err != nil {
			t.Fatalf("AcceptBlock: %v", err)
		}
	}

	result, err = engine.Pending(ctx, keyPair.UserId())
	if err != nil {
		t.Fatalf("Pending (final): %v", err)
	}
	if len(result.MissingNodes) != 0 || len(result.MissingBlocks) != 0 {
		t.Fatalf("expected fully resolved root, got %+v", result)
	}
}

func TestEngineAbsorbRejectsNonMonotonicRoot(t *testing.T) {
	ctx := context.Background()

	writeKey, _ := ouicrypto.GenerateWriteKey()
	keyPair, _ := ouicrypto.DeriveUserKeypair(writeKey)
	readKey, _ := ouicrypto.DeriveReadKey(writeKey)

	localNodes := openTestIndex(t)
	localBlocks := openTestBlocks(t)
	engine := NewEngine(Config{Blocks: localBlocks, Nodes: localNodes, ReadKey: readKey})

	var locator ouicrypto.Locator
	plaintext := []byte("a")
	blockID := ouicrypto.HashBlock(plaintext)
	rootHash, err := localNodes.Insert(ctx, ouicrypto.Hash{}, locator, blockID)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	vv := branch.VersionVector{keyPair.UserId(): 1}
	record := signedRoot(t, keyPair, vv, rootHash)
	if _, err := engine.Absorb(ctx, record); err != nil {
		t.Fatalf("Absorb (first): %v", err)
	}

	// Same VersionVector again: not strictly greater, should be
	// rejected even though the signature itself is valid.
	replay := signedRoot(t, keyPair, vv, rootHash)
	if _, err := engine.Absorb(ctx, replay); !ouierr.Is(err, ouierr.MalformedData) {
		t.Fatalf("expected MalformedData for non-monotonic root, got %v", err)
	}
}

func TestEngineAcceptBlockRejectsContentMismatch(t *testing.T) {
	ctx := context.Background()

	writeKey, _ := ouicrypto.GenerateWriteKey()
	keyPair, _ := ouicrypto.DeriveUserKeypair(writeKey)
	readKey, _ := ouicrypto.DeriveReadKey(writeKey)

	localNodes := openTestIndex(t)
	localBlocks := openTestBlocks(t)
	engine := NewEngine(Config{Blocks: localBlocks, Nodes: localNodes, ReadKey: readKey, BanThreshold: 1})

	realPlaintext := []byte("real content")
	blockID := ouicrypto.HashBlock(realPlaintext)
	var locator ouicrypto.Locator

	otherPlaintext := []byte("different content entirely")
	nonce, forgedCiphertext, err := ouicrypto.EncryptBlock(readKey, locator, blockID, otherPlaintext)
	if err != nil {
		t.Fatalf("EncryptBlock: %v", err)
	}

	userID := keyPair.UserId()
	if err := engine.AcceptBlock(ctx, userID, locator, blockID, nonce, forgedCiphertext); !ouierr.Is(err, ouierr.MalformedData) {
		t.Fatalf("expected MalformedData, got %v", err)
	}
	if !engine.Banned(userID) {
		t.Fatal("expected peer to be banned after a single forged block with BanThreshold=1")
	}
}

func TestEngineInFlightWindow(t *testing.T) {
	localNodes := openTestIndex(t)
	localBlocks := openTestBlocks(t)
	writeKey, _ := ouicrypto.GenerateWriteKey()
	readKey, _ := ouicrypto.DeriveReadKey(writeKey)
	keyPair, _ := ouicrypto.DeriveUserKeypair(writeKey)
	userID := keyPair.UserId()

	engine := NewEngine(Config{Blocks: localBlocks, Nodes: localNodes, ReadKey: readKey, MaxInFlightPerPeer: 2})

	if !engine.TryReserve(userID) {
		t.Fatal("expected first reservation to succeed")
	}
	if !engine.TryReserve(userID) {
		t.Fatal("expected second reservation to succeed")
	}
	if engine.TryReserve(userID) {
		t.Fatal("expected third reservation to fail (window full)")
	}

	engine.Release(userID)
	if !engine.TryReserve(userID) {
		t.Fatal("expected reservation to succeed after a release")
	}
}

func TestPeerRootCacheAcceptAndRejectStale(t *testing.T) {
	writeKey, _ := ouicrypto.GenerateWriteKey()
	keyPair, _ := ouicrypto.DeriveUserKeypair(writeKey)

	cache := NewPeerRootCache()

	var rootA, rootB ouicrypto.Hash
	rootA[0] = 1
	rootB[0] = 2

	vv1 := branch.VersionVector{keyPair.UserId(): 1}
	record1 := signedRoot(t, keyPair, vv1, rootA)
	if _, err := cache.Accept(record1); err != nil {
		t.Fatalf("Accept (first): %v", err)
	}

	vv2 := branch.VersionVector{keyPair.UserId(): 2}
	record2 := signedRoot(t, keyPair, vv2, rootB)
	if _, err := cache.Accept(record2); err != nil {
		t.Fatalf("Accept (advancing): %v", err)
	}

	got, ok := cache.Get(keyPair.UserId())
	if !ok || got.RootHash != rootB {
		t.Fatalf("expected cached root to be the latest accepted one")
	}

	// A root with an older VersionVector must be rejected even if its
	// signature is valid.
	stale := signedRoot(t, keyPair, vv1, rootA)
	if _, err := cache.Accept(stale); err == nil {
		t.Fatal("expected stale root to be rejected")
	}
}
