// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package branch

import (
	"context"
	"testing"

	"github.com/ouisync-go/ouisync/blockstore"
	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

func testUserID(t *testing.T) (*ouicrypto.KeyPair, *secret.Buffer) {
	t.Helper()
	writeKey, err := ouicrypto.GenerateWriteKey()
	if err != nil {
		t.Fatalf("GenerateWriteKey: %v", err)
	}
	keyPair, err := ouicrypto.DeriveUserKeypair(writeKey)
	if err != nil {
		t.Fatalf("DeriveUserKeypair: %v", err)
	}
	return keyPair, writeKey
}

func TestVersionVectorCompare(t *testing.T) {
	var alice, bob ouicrypto.UserId
	alice[0], bob[0] = 1, 2

	a := VersionVector{alice: 2, bob: 1}
	b := VersionVector{alice: 2, bob: 1}
	if got := a.Compare(b); got != Equal {
		t.Fatalf("expected Equal, got %v", got)
	}

	c := a.Increment(alice)
	if got := a.Compare(c); got != Before {
		t.Fatalf("expected Before, got %v", got)
	}
	if got := c.Compare(a); got != After {
		t.Fatalf("expected After, got %v", got)
	}

	d := VersionVector{alice: 3, bob: 0}
	e := VersionVector{alice: 2, bob: 2}
	if got := d.Compare(e); got != Concurrent {
		t.Fatalf("expected Concurrent, got %v", got)
	}
}

func TestVersionVectorEncodeDecodeRoundTrip(t *testing.T) {
	var alice ouicrypto.UserId
	alice[0] = 9
	vv := VersionVector{alice: 7}

	encoded, err := EncodeVersionVector(vv)
	if err != nil {
		t.Fatalf("EncodeVersionVector: %v", err)
	}
	decoded, err := DecodeVersionVector(encoded)
	if err != nil {
		t.Fatalf("DecodeVersionVector: %v", err)
	}
	if decoded.Compare(vv) != Equal {
		t.Fatalf("round trip mismatch: %v vs %v", decoded, vv)
	}
}

func TestBranchMutateAdvancesVersionVectorAndPersists(t *testing.T) {
	ctx := context.Background()
	keyPair, _ := testUserID(t)

	nodes, err := index.Open(index.Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { nodes.Close() })

	br, err := Load(ctx, nodes, keyPair.UserId())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	newRoot := ouicrypto.HashBlock([]byte("new root"))
	err = br.Mutate(ctx, keyPair, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		if rootHash != (ouicrypto.Hash{}) {
			t.Fatalf("expected empty starting root hash on a fresh branch")
		}
		return newRoot, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	if br.RootHash() != newRoot {
		t.Fatalf("root hash not updated")
	}
	if br.VersionVector()[keyPair.UserId()] != 1 {
		t.Fatalf("expected local user's counter to be 1 after first mutation")
	}

	reloaded, err := Load(ctx, nodes, keyPair.UserId())
	if err != nil {
		t.Fatalf("reloading branch: %v", err)
	}
	if reloaded.RootHash() != newRoot {
		t.Fatalf("persisted root hash mismatch after reload")
	}
	if err := ouicrypto.Verify(keyPair.UserId(), signingMessage(keyPair.UserId(), newRoot, mustEncode(t, reloaded.VersionVector())), reloaded.Signature()); err != nil {
		t.Fatalf("persisted signature does not verify: %v", err)
	}
}

func mustEncode(t *testing.T, vv VersionVector) []byte {
	t.Helper()
	encoded, err := EncodeVersionVector(vv)
	if err != nil {
		t.Fatalf("EncodeVersionVector: %v", err)
	}
	return encoded
}

func TestBranchMutateRejectsWrongKeyPair(t *testing.T) {
	ctx := context.Background()
	keyPair, _ := testUserID(t)
	wrongKeyPair, _ := testUserID(t)

	nodes, err := index.Open(index.Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { nodes.Close() })

	br, err := Load(ctx, nodes, keyPair.UserId())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	err = br.Mutate(ctx, wrongKeyPair, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		return ouicrypto.HashBlock([]byte("x")), nil
	})
	if !ouierr.Is(err, ouierr.PermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestVerifyRootRejectsNonMonotonicVersionVector(t *testing.T) {
	keyPair, _ := testUserID(t)

	vv := VersionVector{keyPair.UserId(): 1}
	vvBytes, err := EncodeVersionVector(vv)
	if err != nil {
		t.Fatalf("EncodeVersionVector: %v", err)
	}
	root := ouicrypto.HashBlock([]byte("root"))
	sig := keyPair.Sign(signingMessage(keyPair.UserId(), root, vvBytes))

	record := index.RootRecord{UserId: keyPair.UserId(), VersionVectorBytes: vvBytes, RootHash: root, Signature: sig}

	// Accepting the same root twice must fail monotonicity the second
	// time, since the VersionVector did not advance.
	accepted, err := VerifyRoot(VersionVector{}, record)
	if err != nil {
		t.Fatalf("first VerifyRoot: %v", err)
	}
	if _, err := VerifyRoot(accepted, record); !ouierr.Is(err, ouierr.MalformedData) {
		t.Fatalf("expected MalformedData for non-advancing root, got %v", err)
	}
}

func TestVerifyRootRejectsBadSignature(t *testing.T) {
	keyPair, _ := testUserID(t)
	vv := VersionVector{keyPair.UserId(): 1}
	vvBytes, err := EncodeVersionVector(vv)
	if err != nil {
		t.Fatalf("EncodeVersionVector: %v", err)
	}
	root := ouicrypto.HashBlock([]byte("root"))

	record := index.RootRecord{UserId: keyPair.UserId(), VersionVectorBytes: vvBytes, RootHash: root, Signature: []byte("not a real signature")}
	if _, err := VerifyRoot(VersionVector{}, record); !ouierr.Is(err, ouierr.MalformedData) {
		t.Fatalf("expected MalformedData for bad signature, got %v", err)
	}
}

func TestMergeKeepsNonConflictingEntriesAndForksConcurrentOnes(t *testing.T) {
	var alice, bob ouicrypto.UserId
	alice[0], bob[0] = 1, 2

	localOnlyVV, _ := EncodeVersionVector(VersionVector{alice: 1})
	remoteOnlyVV, _ := EncodeVersionVector(VersionVector{bob: 1})
	concurrentLocalVV, _ := EncodeVersionVector(VersionVector{alice: 2, bob: 0})
	concurrentRemoteVV, _ := EncodeVersionVector(VersionVector{alice: 0, bob: 2})

	local := []objectlayer.Entry{
		{Name: "only-local", Kind: objectlayer.KindFile, VersionVector: localOnlyVV},
		{Name: "contested", Kind: objectlayer.KindFile, ObjectId: ouicrypto.HashBlock([]byte("a")), VersionVector: concurrentLocalVV},
	}
	remote := []objectlayer.Entry{
		{Name: "only-remote", Kind: objectlayer.KindFile, VersionVector: remoteOnlyVV},
		{Name: "contested", Kind: objectlayer.KindFile, ObjectId: ouicrypto.HashBlock([]byte("b")), VersionVector: concurrentRemoteVV},
	}

	merged, forks, err := Merge(local, remote)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if len(merged) != 2 {
		t.Fatalf("expected only-local and only-remote in merged, got %+v", merged)
	}
	if len(forks) != 1 || forks[0].Name != "contested" {
		t.Fatalf("expected exactly one fork named contested, got %+v", forks)
	}
}

func TestMergeTreatsEqualVVDifferentContentAsFork(t *testing.T) {
	var alice ouicrypto.UserId
	alice[0] = 1
	vv, _ := EncodeVersionVector(VersionVector{alice: 1})

	local := []objectlayer.Entry{
		{Name: "doc", Kind: objectlayer.KindTombstone, VersionVector: vv},
	}
	remote := []objectlayer.Entry{
		{Name: "doc", Kind: objectlayer.KindFile, ObjectId: ouicrypto.HashBlock([]byte("live")), VersionVector: vv},
	}

	merged, forks, err := Merge(local, remote)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("expected no unambiguous winner, got %+v", merged)
	}
	if len(forks) != 1 {
		t.Fatalf("expected a fork between tombstone and live entry, got %+v", forks)
	}
}

func TestBranchForkReportsDivergence(t *testing.T) {
	ctx := context.Background()
	aliceKey, _ := testUserID(t)
	bobKey, _ := testUserID(t)

	nodes, err := index.Open(index.Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { nodes.Close() })

	blocks, err := blockstore.Open(blockstore.Config{Path: ":memory:", PoolSize: 1})
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { blocks.Close() })

	objects := objectlayer.New(blocks, nodes)
	readKeyHash := ouicrypto.HashBlock([]byte("read-key"))
	readKey, err := secret.NewFromBytes(readKeyHash[:])
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	t.Cleanup(func() { readKey.Close() })

	dirID, err := objectlayer.NewDirectoryId()
	if err != nil {
		t.Fatalf("NewDirectoryId: %v", err)
	}

	aliceBranch, err := Load(ctx, nodes, aliceKey.UserId())
	if err != nil {
		t.Fatalf("Load alice: %v", err)
	}
	bobBranch, err := Load(ctx, nodes, bobKey.UserId())
	if err != nil {
		t.Fatalf("Load bob: %v", err)
	}

	aliceVV, _ := EncodeVersionVector(VersionVector{aliceKey.UserId(): 1})
	bobVV, _ := EncodeVersionVector(VersionVector{bobKey.UserId(): 1})

	err = aliceBranch.Mutate(ctx, aliceKey, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		return objects.WriteDirectory(ctx, readKey, ouicrypto.Hash(aliceKey.UserId()), rootHash, dirID, []objectlayer.Entry{
			{Name: "shared.txt", Kind: objectlayer.KindFile, ObjectId: ouicrypto.HashBlock([]byte("alice-version")), VersionVector: aliceVV},
		})
	})
	if err != nil {
		t.Fatalf("alice Mutate: %v", err)
	}

	err = bobBranch.Mutate(ctx, bobKey, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		return objects.WriteDirectory(ctx, readKey, ouicrypto.Hash(bobKey.UserId()), rootHash, dirID, []objectlayer.Entry{
			{Name: "shared.txt", Kind: objectlayer.KindFile, ObjectId: ouicrypto.HashBlock([]byte("bob-version")), VersionVector: bobVV},
		})
	})
	if err != nil {
		t.Fatalf("bob Mutate: %v", err)
	}

	forks, err := aliceBranch.Fork(ctx, objects, readKey, bobBranch, dirID)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if len(forks) != 1 || forks[0].Name != "shared.txt" {
		t.Fatalf("expected one fork on shared.txt, got %+v", forks)
	}
}
