// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ouisync-go/ouisync/blockstore"
	"github.com/ouisync-go/ouisync/index"
	"github.com/ouisync-go/ouisync/lib/clock"
	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// defaultMaxInFlight bounds how many outstanding block requests Engine
// will admit per peer at once (spec.md §4.7's "in-flight block request
// window"), so one slow or malicious peer cannot monopolize local
// download bandwidth.
const defaultMaxInFlight = 64

// defaultBanThreshold is the failure count at which a peer is reported
// as banned by Banned.
const defaultBanThreshold = 8

// defaultDecayWindow is how long a peer's failure count is remembered
// before a subsequent failure resets it, so a peer that misbehaved
// once a long time ago is not judged by that forever.
const defaultDecayWindow = 5 * time.Minute

// Config holds Engine's dependencies and tuning parameters.
type Config struct {
	Blocks  *blockstore.Store
	Nodes   *index.Store
	ReadKey *secret.Buffer

	// Clock defaults to clock.Real() if nil.
	Clock clock.Clock

	// MaxInFlightPerPeer defaults to defaultMaxInFlight if zero.
	MaxInFlightPerPeer int

	// BanThreshold defaults to defaultBanThreshold if zero.
	BanThreshold int

	// DecayWindow defaults to defaultDecayWindow if zero.
	DecayWindow time.Duration
}

// Engine is the reconciliation state machine for one repository
// replica: it validates and caches peer roots, diffs them against
// local state to find missing blocks, and installs blocks and trie
// nodes as they arrive from package syncproto.
type Engine struct {
	blocks  *blockstore.Store
	nodes   *index.Store
	readKey *secret.Buffer
	cache   *PeerRootCache
	clk     clock.Clock

	inFlightMu  sync.Mutex
	inFlight    map[ouicrypto.UserId]int
	maxInFlight int

	scoreMu      sync.Mutex
	scores       map[ouicrypto.UserId]*peerScore
	banThreshold int
	decayWindow  time.Duration
}

// peerScore is a decaying failure counter for one peer, used for
// back-off: a peer whose counter crosses banThreshold is reported as
// Banned until enough successes (or enough quiet time) bring it back
// down.
type peerScore struct {
	failures    int
	lastFailure time.Time
}

// NewEngine constructs an Engine. Panics if cfg.Blocks, cfg.Nodes, or
// cfg.ReadKey is nil — these are not optional dependencies.
func NewEngine(cfg Config) *Engine {
	if cfg.Blocks == nil || cfg.Nodes == nil || cfg.ReadKey == nil {
		panic("reconcile: NewEngine requires Blocks, Nodes, and ReadKey")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	maxInFlight := cfg.MaxInFlightPerPeer
	if maxInFlight == 0 {
		maxInFlight = defaultMaxInFlight
	}
	banThreshold := cfg.BanThreshold
	if banThreshold == 0 {
		banThreshold = defaultBanThreshold
	}
	decayWindow := cfg.DecayWindow
	if decayWindow == 0 {
		decayWindow = defaultDecayWindow
	}

	return &Engine{
		blocks:       cfg.Blocks,
		nodes:        cfg.Nodes,
		readKey:      cfg.ReadKey,
		cache:        NewPeerRootCache(),
		clk:          clk,
		inFlight:     make(map[ouicrypto.UserId]int),
		maxInFlight:  maxInFlight,
		scores:       make(map[ouicrypto.UserId]*peerScore),
		banThreshold: banThreshold,
		decayWindow:  decayWindow,
	}
}

// Cache returns the engine's peer root cache, e.g. for a status
// command that wants to list known peers and their last-accepted
// roots.
func (e *Engine) Cache() *PeerRootCache {
	return e.cache
}

// AbsorbResult is what a peer's newly announced root still needs
// before it is fully resolvable locally.
type AbsorbResult struct {
	// MissingNodes are trie node hashes to request via syncproto's
	// ChildrenRequest.
	MissingNodes []ouicrypto.Hash

	// MissingBlocks are (Locator, BlockId) pairs to request via
	// syncproto's BlockRequest.
	MissingBlocks []index.DiffEntry
}

// Absorb runs spec.md §4.7's validate-then-diff step for a root
// announced by a peer: reject it outright if it fails signature or
// monotonicity checks (Banned callers should be skipped by the caller
// before even getting here), otherwise compute what is still missing
// to materialize it.
//
// When a previous root is already cached for this peer, Absorb prefers
// index.Store.Diff against it — the bandwidth-efficient path that
// skips every subtree unchanged since last time. If that comparison
// itself hits a node this process never finished fetching (e.g. after
// a restart), Absorb falls back to a full Frontier walk of the new
// root, which only ever discovers the next layer of an unseen subtree
// but is always safe to run from scratch.
func (e *Engine) Absorb(ctx context.Context, record index.RootRecord) (AbsorbResult, error) {
	previous, hadPrevious := e.cache.Get(record.UserId)

	if _, err := e.cache.Accept(record); err != nil {
		e.penalize(record.UserId)
		return AbsorbResult{}, err
	}

	if hadPrevious {
		entries, err := e.nodes.Diff(ctx, previous.RootHash, record.RootHash)
		if err == nil {
			missing, err := e.unresolvedBlocks(ctx, entries)
			if err != nil {
				return AbsorbResult{}, err
			}
			return AbsorbResult{MissingBlocks: missing}, nil
		}
		if !ouierr.Is(err, ouierr.EntryNotFound) {
			return AbsorbResult{}, fmt.Errorf("reconcile: diffing peer root: %w", err)
		}
	}

	missingNodes, missingBlocks, err := e.nodes.Frontier(ctx, record.RootHash, e.blockPresent(ctx))
	if err != nil {
		return AbsorbResult{}, fmt.Errorf("reconcile: walking peer root frontier: %w", err)
	}
	return AbsorbResult{MissingNodes: missingNodes, MissingBlocks: missingBlocks}, nil
}

// Pending re-walks the last root accepted from userID and reports
// what is still missing. Call this after AcceptNode/AcceptBlock calls
// to find the next layer to request — each call only ever reveals
// what is missing right now, so a caller drains a peer's root by
// calling Pending, requesting what it reports, installing the
// responses, and calling Pending again until both lists are empty.
func (e *Engine) Pending(ctx context.Context, userID ouicrypto.UserId) (AbsorbResult, error) {
	record, ok := e.cache.Get(userID)
	if !ok {
		return AbsorbResult{}, fmt.Errorf("%w: no accepted root for peer", ouierr.EntryNotFound)
	}

	missingNodes, missingBlocks, err := e.nodes.Frontier(ctx, record.RootHash, e.blockPresent(ctx))
	if err != nil {
		return AbsorbResult{}, fmt.Errorf("reconcile: walking peer root frontier: %w", err)
	}
	return AbsorbResult{MissingNodes: missingNodes, MissingBlocks: missingBlocks}, nil
}

func (e *Engine) unresolvedBlocks(ctx context.Context, entries []index.DiffEntry) ([]index.DiffEntry, error) {
	var missing []index.DiffEntry
	for _, entry := range entries {
		present, err := e.blockPresentOnce(ctx, entry.BlockId)
		if err != nil {
			return nil, fmt.Errorf("reconcile: checking block presence: %w", err)
		}
		if !present {
			missing = append(missing, entry)
		}
	}
	return missing, nil
}

func (e *Engine) blockPresent(ctx context.Context) func(ouicrypto.Hash) (bool, error) {
	return func(blockID ouicrypto.Hash) (bool, error) {
		return e.blockPresentOnce(ctx, blockID)
	}
}

func (e *Engine) blockPresentOnce(ctx context.Context, blockID ouicrypto.Hash) (bool, error) {
	_, _, err := e.blocks.Get(ctx, blockID)
	if err == nil {
		return true, nil
	}
	if ouierr.Is(err, ouierr.EntryNotFound) {
		return false, nil
	}
	return false, err
}

// AcceptNode installs a trie node byte-for-byte as received from
// userID, content-addressed by expectedHash (the hash originally
// requested via ChildrenRequest). Rejects and penalizes userID if the
// bytes are malformed or do not hash to expectedHash.
func (e *Engine) AcceptNode(ctx context.Context, userID ouicrypto.UserId, expectedHash ouicrypto.Hash, encoded []byte) error {
	if err := e.nodes.PutRawNode(ctx, expectedHash, encoded); err != nil {
		e.penalize(userID)
		return fmt.Errorf("reconcile: accepting node from peer: %w", err)
	}
	return nil
}

// AcceptBlock installs a block received from userID: it decrypts the
// ciphertext under the engine's read key, verifies H(plaintext) ==
// blockID (spec.md §8's testable property — AEAD authentication alone
// only proves the ciphertext was sealed under this blockID, not that
// blockID itself was computed honestly), then stores it and records
// that (userID's branch, locator) references it.
func (e *Engine) AcceptBlock(ctx context.Context, userID ouicrypto.UserId, locator ouicrypto.Locator, blockID ouicrypto.Hash, nonce blockstore.Nonce, ciphertext []byte) error {
	plaintext, err := ouicrypto.DecryptBlock(e.readKey, blockID, nonce, ciphertext)
	if err != nil {
		e.penalize(userID)
		return fmt.Errorf("reconcile: decrypting block from peer: %w", err)
	}
	if ouicrypto.HashBlock(plaintext) != blockID {
		e.penalize(userID)
		return fmt.Errorf("%w: block content does not hash to its claimed id", ouierr.MalformedData)
	}

	if err := e.blocks.Put(ctx, blockID, nonce, ciphertext); err != nil {
		return fmt.Errorf("reconcile: storing block from peer: %w", err)
	}

	branchID := ouicrypto.Hash(userID)
	if err := e.blocks.Reference(ctx, branchID, locator, blockID); err != nil {
		return fmt.Errorf("reconcile: referencing block from peer: %w", err)
	}

	e.reward(userID)
	return nil
}

// TryReserve claims one of userID's in-flight request slots, returning
// false if userID already has MaxInFlightPerPeer requests outstanding.
// Callers should call Release once the corresponding request's
// response (or timeout) is handled.
func (e *Engine) TryReserve(userID ouicrypto.UserId) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	if e.inFlight[userID] >= e.maxInFlight {
		return false
	}
	e.inFlight[userID]++
	return true
}

// Release frees one of userID's in-flight request slots.
func (e *Engine) Release(userID ouicrypto.UserId) {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()

	if e.inFlight[userID] > 0 {
		e.inFlight[userID]--
	}
}

// penalize increments userID's failure counter, resetting it first if
// the decay window has elapsed since the last failure.
func (e *Engine) penalize(userID ouicrypto.UserId) {
	e.scoreMu.Lock()
	defer e.scoreMu.Unlock()

	s, ok := e.scores[userID]
	if !ok {
		s = &peerScore{}
		e.scores[userID] = s
	}
	now := e.clk.Now()
	if !s.lastFailure.IsZero() && now.Sub(s.lastFailure) > e.decayWindow {
		s.failures = 0
	}
	s.failures++
	s.lastFailure = now
}

// reward decrements userID's failure counter after a successful
// exchange, so a peer that misbehaved once can work its way back to
// good standing instead of being banned forever.
func (e *Engine) reward(userID ouicrypto.UserId) {
	e.scoreMu.Lock()
	defer e.scoreMu.Unlock()

	if s, ok := e.scores[userID]; ok && s.failures > 0 {
		s.failures--
	}
}

// Banned reports whether userID's failure counter has crossed
// BanThreshold. Callers should stop admitting requests from and
// sending requests to a banned peer until its counter decays.
func (e *Engine) Banned(userID ouicrypto.UserId) bool {
	e.scoreMu.Lock()
	defer e.scoreMu.Unlock()

	s, ok := e.scores[userID]
	return ok && s.failures >= e.banThreshold && e.clk.Now().Sub(s.lastFailure) <= e.decayWindow
}
