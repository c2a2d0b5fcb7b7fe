// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package branch

import (
	"context"
	"fmt"

	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// Divergence is a directory entry name whose versions across two
// branches are genuinely concurrent and cannot be merged
// automatically (spec.md §4.6's "fork"). A reader presented with a
// Divergence sees a MultiDir: both Entries, not one winner.
type Divergence struct {
	Name    string
	Entries []objectlayer.Entry
}

// Merge applies spec.md §4.6's per-entry merge rule to two directory
// snapshots: for each name present in either, keep whichever entry's
// VersionVector dominates the other, or fork if neither dominates.
//
// Equal VersionVectors with differing Kind/ObjectId (e.g. one side a
// Tombstone, the other not) are treated as a fork rather than an
// arbitrary tiebreak: spec.md states tombstones "participate in VV
// comparison like any other entry", and two entries whose clocks
// agree but whose content differs is definitionally the concurrent
// case, not equality (see DESIGN.md Open Question #1).
func Merge(local, remote []objectlayer.Entry) (merged []objectlayer.Entry, forks []Divergence, err error) {
	localByName := make(map[string]objectlayer.Entry, len(local))
	for _, e := range local {
		localByName[e.Name] = e
	}
	remoteByName := make(map[string]objectlayer.Entry, len(remote))
	for _, e := range remote {
		remoteByName[e.Name] = e
	}

	names := make(map[string]struct{}, len(local)+len(remote))
	for name := range localByName {
		names[name] = struct{}{}
	}
	for name := range remoteByName {
		names[name] = struct{}{}
	}

	for name := range names {
		localEntry, hasLocal := localByName[name]
		remoteEntry, hasRemote := remoteByName[name]

		switch {
		case hasLocal && !hasRemote:
			merged = append(merged, localEntry)
			continue
		case hasRemote && !hasLocal:
			merged = append(merged, remoteEntry)
			continue
		}

		localVV, err := DecodeVersionVector(localEntry.VersionVector)
		if err != nil {
			return nil, nil, fmt.Errorf("branch: merging %q: %w", name, err)
		}
		remoteVV, err := DecodeVersionVector(remoteEntry.VersionVector)
		if err != nil {
			return nil, nil, fmt.Errorf("branch: merging %q: %w", name, err)
		}

		switch localVV.Compare(remoteVV) {
		case Before:
			merged = append(merged, remoteEntry)
		case After:
			merged = append(merged, localEntry)
		case Equal:
			if identicalContent(localEntry, remoteEntry) {
				merged = append(merged, localEntry)
			} else {
				forks = append(forks, Divergence{Name: name, Entries: []objectlayer.Entry{localEntry, remoteEntry}})
			}
		case Concurrent:
			forks = append(forks, Divergence{Name: name, Entries: []objectlayer.Entry{localEntry, remoteEntry}})
		}
	}

	return merged, forks, nil
}

func identicalContent(a, b objectlayer.Entry) bool {
	return a.Kind == b.Kind && a.ObjectId == b.ObjectId
}

// Fork lists the Divergences between this branch's and other's
// directory dirID, without materializing a full MultiDir view. This
// is the supplemental read-only inspection API recovered from
// original_source's branch debug tooling (SPEC_FULL.md §4.6) — useful
// for a CLI status command that wants to know what needs resolving
// without paying for a merged read.
func (b *Branch) Fork(ctx context.Context, objects *objectlayer.Store, readKey *secret.Buffer, other *Branch, dirID ouicrypto.Hash) ([]Divergence, error) {
	localEntries, err := objects.ReadDirectory(ctx, readKey, b.RootHash(), dirID)
	if err != nil && !ouierr.Is(err, ouierr.EntryNotFound) {
		return nil, fmt.Errorf("branch: fork: reading local directory: %w", err)
	}
	remoteEntries, err := objects.ReadDirectory(ctx, readKey, other.RootHash(), dirID)
	if err != nil && !ouierr.Is(err, ouierr.EntryNotFound) {
		return nil, fmt.Errorf("branch: fork: reading remote directory: %w", err)
	}

	_, forks, err := Merge(localEntries, remoteEntries)
	if err != nil {
		return nil, fmt.Errorf("branch: fork: %w", err)
	}
	return forks, nil
}
