// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package branch

import (
	"fmt"

	"github.com/ouisync-go/ouisync/lib/codec"
	"github.com/ouisync-go/ouisync/ouicrypto"
)

// VersionVector is a per-user counter map, spec.md §4.6's causal
// clock for a branch or a directory entry.
type VersionVector map[ouicrypto.UserId]uint64

// NewVersionVector returns an empty VersionVector — the clock of a
// branch or entry that has never been written.
func NewVersionVector() VersionVector {
	return VersionVector{}
}

// Clone returns an independent copy of vv.
func (vv VersionVector) Clone() VersionVector {
	clone := make(VersionVector, len(vv))
	for user, count := range vv {
		clone[user] = count
	}
	return clone
}

// Increment returns a copy of vv with user's entry bumped by one. It
// does not mutate vv, so callers holding an older reference keep
// seeing the pre-increment value — important since a Branch's
// committed VersionVector must never change out from under a reader
// that captured it before a concurrent mutation.
func (vv VersionVector) Increment(user ouicrypto.UserId) VersionVector {
	next := vv.Clone()
	next[user] = next[user] + 1
	return next
}

// Ordering is the result of comparing two VersionVectors.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("branch.Ordering(%d)", int(o))
	}
}

// Compare reports how vv relates to other. Missing entries count as
// zero on both sides, so a VersionVector that has never heard of a
// user compares as strictly behind one that has.
func (vv VersionVector) Compare(other VersionVector) Ordering {
	less, greater := false, false

	seen := make(map[ouicrypto.UserId]struct{}, len(vv)+len(other))
	for user := range vv {
		seen[user] = struct{}{}
	}
	for user := range other {
		seen[user] = struct{}{}
	}

	for user := range seen {
		a, b := vv[user], other[user]
		switch {
		case a < b:
			less = true
		case a > b:
			greater = true
		}
	}

	switch {
	case !less && !greater:
		return Equal
	case less && !greater:
		return Before
	case greater && !less:
		return After
	default:
		return Concurrent
	}
}

// EncodeVersionVector serializes vv for storage in index.RootRecord
// or an objectlayer.Entry.
func EncodeVersionVector(vv VersionVector) ([]byte, error) {
	if vv == nil {
		vv = VersionVector{}
	}
	encoded, err := codec.Marshal(vv)
	if err != nil {
		return nil, fmt.Errorf("branch: encoding version vector: %w", err)
	}
	return encoded, nil
}

// DecodeVersionVector deserializes bytes produced by
// EncodeVersionVector. An empty or nil input decodes to an empty
// VersionVector rather than an error, matching a branch or entry
// that has never been written.
func DecodeVersionVector(data []byte) (VersionVector, error) {
	if len(data) == 0 {
		return VersionVector{}, nil
	}
	var vv VersionVector
	if err := codec.Unmarshal(data, &vv); err != nil {
		return nil, fmt.Errorf("branch: decoding version vector: %w", err)
	}
	if vv == nil {
		vv = VersionVector{}
	}
	return vv, nil
}
