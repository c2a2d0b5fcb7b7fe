// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package syncproto

import (
	"github.com/ouisync-go/ouisync/ouicrypto"
)

// Kind discriminates the body carried by an envelope.
type Kind uint8

const (
	// KindRootAnnounce is an unsolicited push of a branch's current
	// root, sent whenever the sender's own branch advances. Carries a
	// RootMessage body.
	KindRootAnnounce Kind = iota + 1

	// KindRootRequest pulls a peer's current root for one UserId.
	// Carries a RootRequest body; answered with KindRoot.
	KindRootRequest

	// KindRoot answers a KindRootRequest. Carries a RootMessage body.
	KindRoot

	// KindChildrenRequest asks for the encoded bytes of one trie node,
	// by its content hash. Carries a ChildrenRequest body; answered
	// with KindChildren.
	KindChildrenRequest

	// KindChildren answers a KindChildrenRequest. Carries a Children
	// body.
	KindChildren

	// KindBlockRequest asks for one block's nonce and ciphertext, by
	// BlockId. Carries a BlockRequest body; answered with KindBlock.
	KindBlockRequest

	// KindBlock answers a KindBlockRequest. Carries a Block body.
	KindBlock

	// KindInterest declares that the sender wants to sync one
	// repository, identified by its RepositoryId. Carries an Interest
	// body; answered with KindInterestAck.
	KindInterest

	// KindInterestAck answers a KindInterest. Carries no body.
	KindInterestAck

	// KindHeartbeat keeps an otherwise idle connection from being
	// reaped by an intermediary. Carries no body, expects no response.
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindRootAnnounce:
		return "root_announce"
	case KindRootRequest:
		return "root_request"
	case KindRoot:
		return "root"
	case KindChildrenRequest:
		return "children_request"
	case KindChildren:
		return "children"
	case KindBlockRequest:
		return "block_request"
	case KindBlock:
		return "block"
	case KindInterest:
		return "interest"
	case KindInterestAck:
		return "interest_ack"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// envelope is the outermost CBOR struct written to the wire. Body is
// itself CBOR-encoded, nested rather than flattened, so Session can
// dispatch on Kind/RequestId without knowing how to decode every
// payload shape up front.
type envelope struct {
	Kind      Kind   `cbor:"1,keyasint"`
	RequestId uint64 `cbor:"2,keyasint"`
	Body      []byte `cbor:"3,keyasint"`
}

// RootMessage carries a branch root: the same fields as
// index.RootRecord, redeclared with explicit wire tags rather than
// reusing that type directly, since RootRecord's field names are
// tuned for SQL column binding, not CBOR key economy.
type RootMessage struct {
	UserId        ouicrypto.UserId `cbor:"1,keyasint"`
	VersionVector []byte           `cbor:"2,keyasint"`
	RootHash      ouicrypto.Hash   `cbor:"3,keyasint"`
	Signature     []byte           `cbor:"4,keyasint"`
}

// RootRequest asks a peer for its current root for UserId.
type RootRequest struct {
	UserId ouicrypto.UserId `cbor:"1,keyasint"`
}

// ChildrenRequest asks a peer for the encoded trie node stored under
// Hash.
type ChildrenRequest struct {
	Hash ouicrypto.Hash `cbor:"1,keyasint"`
}

// Children answers a ChildrenRequest. Encoded is the node's raw bytes
// as produced by index.EncodeNode — the receiver verifies
// index.NodeHash(Encoded) == Hash before trusting it (package
// reconcile's AcceptNode does exactly this check).
type Children struct {
	Hash    ouicrypto.Hash `cbor:"1,keyasint"`
	Encoded []byte         `cbor:"2,keyasint"`
}

// BlockRequest asks a peer for the ciphertext stored at Locator under
// BlockId.
type BlockRequest struct {
	Locator ouicrypto.Hash `cbor:"1,keyasint"`
	BlockId ouicrypto.Hash `cbor:"2,keyasint"`
}

// Block answers a BlockRequest.
type Block struct {
	Locator    ouicrypto.Hash `cbor:"1,keyasint"`
	BlockId    ouicrypto.Hash `cbor:"2,keyasint"`
	Nonce      []byte         `cbor:"3,keyasint"`
	Ciphertext []byte         `cbor:"4,keyasint"`
}

// Interest declares the sender wants to sync RepositoryId.
type Interest struct {
	RepositoryId ouicrypto.Hash `cbor:"1,keyasint"`
}
