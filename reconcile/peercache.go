// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"sync"

	"github.com/ouisync-go/ouisync/branch"
	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/ouicrypto"
)

// PeerRootCache holds the last root this process has accepted from
// each peer UserId, grounded on lib/artifact/refindex.go's RefIndex: a
// single mutex-guarded map that many goroutines read and update
// concurrently, with no per-entry locking needed since entries are
// replaced wholesale.
type PeerRootCache struct {
	mu    sync.RWMutex
	roots map[ouicrypto.UserId]index.RootRecord
	vvs   map[ouicrypto.UserId]branch.VersionVector
}

// NewPeerRootCache returns an empty cache.
func NewPeerRootCache() *PeerRootCache {
	return &PeerRootCache{
		roots: make(map[ouicrypto.UserId]index.RootRecord),
		vvs:   make(map[ouicrypto.UserId]branch.VersionVector),
	}
}

// Get returns the last accepted root record for userID, if any.
func (c *PeerRootCache) Get(userID ouicrypto.UserId) (index.RootRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.roots[userID]
	return record, ok
}

// Accept validates record against the previously accepted root for
// record.UserId (spec.md §4.3's signature and monotonicity checks, via
// branch.VerifyRoot) and, on success, replaces the cached entry.
// Returns the decoded VersionVector of the newly accepted root.
//
// A record that fails validation never reaches the cache: a stale or
// forged announcement must not perturb what this process believes is
// the peer's current state.
func (c *PeerRootCache) Accept(record index.RootRecord) (branch.VersionVector, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.vvs[record.UserId]
	newVV, err := branch.VerifyRoot(previous, record)
	if err != nil {
		return nil, fmt.Errorf("reconcile: accepting root from peer: %w", err)
	}

	c.roots[record.UserId] = record
	c.vvs[record.UserId] = newVV
	return newVV, nil
}

// Peers returns the UserIds this cache currently holds a root for.
func (c *PeerRootCache) Peers() []ouicrypto.UserId {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peers := make([]ouicrypto.UserId, 0, len(c.roots))
	for userID := range c.roots {
		peers = append(peers, userID)
	}
	return peers
}
