// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"bytes"
	"fmt"

	"github.com/ouisync-go/ouisync/lib/codec"
	"github.com/ouisync-go/ouisync/ouicrypto"
)

// fanout is the number of children per internal node: one byte of the
// Locator selects a child at each level.
const fanout = 256

// maxDepth is the number of levels between the root and a leaf: one
// per byte of a 32-byte Locator.
const maxDepth = 32

// Node is an internal trie node. A zero Children[i] means no child is
// present at index i. At depth maxDepth-1, a child "hash" is not
// another node's hash at all but the BlockId stored at that Locator —
// the trie's leaves are the block ids themselves, so no separate leaf
// node type is needed.
type Node struct {
	Children [fanout]ouicrypto.Hash `cbor:"1,keyasint"`
}

// encodeNode serializes a node with Core Deterministic Encoding, so
// two equal nodes always produce identical bytes and therefore
// identical hashes.
func encodeNode(node Node) ([]byte, error) {
	encoded, err := codec.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("index: encoding node: %w", err)
	}
	return encoded, nil
}

// decodeNode deserializes a node, rejecting anything that does not
// decode into exactly the fixed 256-child shape: the decoded node must
// re-encode to the very bytes it was read from. This is the
// "structural validation" half of spec.md §4.3's three-step root
// acceptance check; the other two (signature, VersionVector
// monotonicity) are the caller's responsibility.
func decodeNode(encoded []byte) (Node, error) {
	var node Node
	if err := codec.Unmarshal(encoded, &node); err != nil {
		return Node{}, fmt.Errorf("index: decoding node: %w", err)
	}
	reencoded, err := encodeNode(node)
	if err != nil {
		return Node{}, err
	}
	if !bytes.Equal(reencoded, encoded) {
		return Node{}, fmt.Errorf("index: decoding node: not the canonical %d-child encoding", fanout)
	}
	return node, nil
}

func nodeHash(encoded []byte) ouicrypto.Hash {
	return ouicrypto.HashIndexNode(encoded)
}

// EncodeNode serializes node the same way Store does internally. A
// syncproto Children response carries exactly these bytes; a peer
// receiving them hashes them with NodeHash and compares against the
// hash it requested.
func EncodeNode(node Node) ([]byte, error) {
	return encodeNode(node)
}

// DecodeNode deserializes bytes produced by EncodeNode.
func DecodeNode(encoded []byte) (Node, error) {
	return decodeNode(encoded)
}

// NodeHash computes the content-addressed hash of encoded node bytes.
func NodeHash(encoded []byte) ouicrypto.Hash {
	return nodeHash(encoded)
}
