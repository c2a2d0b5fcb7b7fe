// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package branch

import (
	"context"
	"fmt"
	"sync"

	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// Branch is one user's view of a repository: a VersionVector, the
// current index root hash, and the signature over both. Reads of
// VersionVector/RootHash never block on a concurrent Mutate — they
// return whatever was last committed (spec.md §4.6).
type Branch struct {
	// writeMu serializes Mutate calls. mu guards the committed fields
	// below and is only held briefly, never across a mutation.
	writeMu sync.Mutex
	mu      sync.Mutex

	userID ouicrypto.UserId
	nodes  *index.Store

	vv        VersionVector
	rootHash  ouicrypto.Hash
	signature []byte
}

// Load reads a branch's persisted root from nodes, or returns a fresh
// empty branch if userID has never committed one.
func Load(ctx context.Context, nodes *index.Store, userID ouicrypto.UserId) (*Branch, error) {
	record, err := nodes.GetRoot(ctx, userID)
	if ouierr.Is(err, ouierr.EntryNotFound) {
		return &Branch{userID: userID, nodes: nodes, vv: NewVersionVector()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("branch: loading %s: %w", ouicrypto.FormatHash(ouicrypto.Hash(userID)), err)
	}

	vv, err := DecodeVersionVector(record.VersionVectorBytes)
	if err != nil {
		return nil, fmt.Errorf("branch: loading %s: %w", ouicrypto.FormatHash(ouicrypto.Hash(userID)), err)
	}

	return &Branch{
		userID:    userID,
		nodes:     nodes,
		vv:        vv,
		rootHash:  record.RootHash,
		signature: record.Signature,
	}, nil
}

// UserId returns the branch owner's UserId.
func (b *Branch) UserId() ouicrypto.UserId {
	return b.userID
}

// VersionVector returns a snapshot of the branch's current clock.
func (b *Branch) VersionVector() VersionVector {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vv.Clone()
}

// RootHash returns the branch's current index root hash.
func (b *Branch) RootHash() ouicrypto.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rootHash
}

// Signature returns the signature over the branch's current root and
// VersionVector.
func (b *Branch) Signature() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.signature...)
}

// Mutate runs spec.md §4.6's four-step mutation sequence under the
// branch's write lock: increment this branch's own VersionVector
// entry, run change (the object-layer work, receiving the pre-
// mutation root and returning the post-mutation root), then sign and
// persist the result. keyPair must be this branch's own signing
// keypair — Mutate refuses to advance any other branch's clock.
func (b *Branch) Mutate(ctx context.Context, keyPair *ouicrypto.KeyPair, change func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error)) error {
	if keyPair.UserId() != b.userID {
		return fmt.Errorf("%w: signing key does not belong to this branch", ouierr.PermissionDenied)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.mu.Lock()
	currentVV, currentRoot := b.vv, b.rootHash
	b.mu.Unlock()

	nextVV := currentVV.Increment(b.userID)

	newRoot, err := change(currentRoot)
	if err != nil {
		return fmt.Errorf("branch: mutation: %w", err)
	}

	vvBytes, err := EncodeVersionVector(nextVV)
	if err != nil {
		return fmt.Errorf("branch: mutation: %w", err)
	}

	signature := keyPair.Sign(signingMessage(b.userID, newRoot, vvBytes))

	record := index.RootRecord{
		UserId:             b.userID,
		VersionVectorBytes: vvBytes,
		RootHash:           newRoot,
		Signature:          signature,
	}
	if err := b.nodes.PutRoot(ctx, record); err != nil {
		return fmt.Errorf("branch: persisting root: %w", err)
	}

	b.mu.Lock()
	b.vv = nextVV
	b.rootHash = newRoot
	b.signature = signature
	b.mu.Unlock()
	return nil
}

// signingMessage builds the canonical bytes a branch root's signature
// covers: enough to bind the signature to one UserId, one root, and
// one VersionVector, so neither can be swapped onto another without
// invalidating it.
func signingMessage(userID ouicrypto.UserId, rootHash ouicrypto.Hash, vvBytes []byte) []byte {
	msg := make([]byte, 0, len(userID)+len(rootHash)+len(vvBytes))
	msg = append(msg, userID[:]...)
	msg = append(msg, rootHash[:]...)
	msg = append(msg, vvBytes...)
	return msg
}

// VerifyRoot runs spec.md §4.3's second and third checks on a root
// received from a peer: Ed25519 signature verification against the
// declared UserId, then VersionVector monotonicity against the last
// root this process accepted from that UserId. Structural validation
// (the first check) happens implicitly in package index, which
// rejects malformed node bytes while descending the tree.
func VerifyRoot(previous VersionVector, record index.RootRecord) (VersionVector, error) {
	newVV, err := DecodeVersionVector(record.VersionVectorBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ouierr.MalformedData, err)
	}

	if err := ouicrypto.Verify(record.UserId, signingMessage(record.UserId, record.RootHash, record.VersionVectorBytes), record.Signature); err != nil {
		return nil, err
	}

	if previous.Compare(newVV) != Before {
		return nil, fmt.Errorf("%w: version vector does not strictly dominate the previously accepted root", ouierr.MalformedData)
	}

	return newVV, nil
}
