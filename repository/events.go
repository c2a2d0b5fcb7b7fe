// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"fmt"

	"github.com/ouisync-go/ouisync/ouicrypto"
)

// eventBufferSize is how many events Events() buffers before a slow
// subscriber starts losing them. spec.md §5 permits coalescing
// duplicates under backpressure, which a bounded channel with a
// non-blocking send gives for free.
const eventBufferSize = 256

// EventKind discriminates an Event's payload, the three events
// spec.md §4.9's subscribe_events names.
type EventKind int

const (
	// EventBlockWritten fires when a new block is committed locally
	// or accepted from a peer. BlockId identifies it.
	EventBlockWritten EventKind = iota
	// EventBranchChanged fires when a branch's root advances. UserId
	// identifies the branch.
	EventBranchChanged
	// EventPeerSetChanged fires when a peer connects or disconnects.
	EventPeerSetChanged
)

func (k EventKind) String() string {
	switch k {
	case EventBlockWritten:
		return "block_written"
	case EventBranchChanged:
		return "branch_changed"
	case EventPeerSetChanged:
		return "peer_set_changed"
	default:
		return fmt.Sprintf("repository.EventKind(%d)", int(k))
	}
}

// Event is one notification delivered by Events(). Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind EventKind

	// UserId is set for EventBranchChanged.
	UserId ouicrypto.UserId

	// BlockId is set for EventBlockWritten.
	BlockId ouicrypto.Hash
}

// Events returns the channel commit notifications are delivered on.
// Events preserve the commit order of their underlying transactions,
// but duplicates may be coalesced and a slow subscriber may miss
// events once the internal buffer fills (spec.md §5).
func (r *Repository) Events() <-chan Event {
	return r.events
}

func (r *Repository) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
	}
}

// NotifyBlockWritten records that blockID was committed, for
// sync-driving code built on top of a Repository to report blocks it
// accepted from a peer (no package in this module calls it) — a
// Repository cannot observe those on its own, since package reconcile
// writes directly to the shared blockstore/index stores rather than
// through this façade.
func (r *Repository) NotifyBlockWritten(blockID ouicrypto.Hash) {
	r.emit(Event{Kind: EventBlockWritten, BlockId: blockID})
}

// NotifyPeerSetChanged records that a peer connected or disconnected,
// for the same reason as NotifyBlockWritten.
func (r *Repository) NotifyPeerSetChanged() {
	r.emit(Event{Kind: EventPeerSetChanged})
}
