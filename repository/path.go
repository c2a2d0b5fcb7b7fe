// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ouisync-go/ouisync/access"
	"github.com/ouisync-go/ouisync/branch"
	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// namedEntry pairs a directory entry with the RootHash of the branch
// whose version of it currently wins the merge — the entry alone
// doesn't say where to find its content, since the same file_root_id
// can have different block content under different branches until
// reconciliation catches up.
type namedEntry struct {
	Entry    objectlayer.Entry
	RootHash ouicrypto.Hash
}

// splitPath breaks a "/"-separated path into non-empty components.
// The root path ("" or "/") splits to zero components.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, "/")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: path contains an empty component", ouierr.InvalidArgument)
		}
	}
	return parts, nil
}

// mergedEntries folds every known branch's listing of dirID into one
// view, applying spec.md §4.6's per-name rule: the entry whose
// VersionVector strictly dominates wins; names where two branches
// hold incomparable or content-differing-but-equal versions are
// recorded in forks instead of resolved. Branches are folded in a
// fixed (UserId-sorted) order for determinism; a dominating write
// discovered later in that order clears an earlier name-level fork,
// which is a reasonable approximation of full pairwise resolution and
// exact when at most one branch disagrees with the eventual winner.
func (r *Repository) mergedEntries(ctx context.Context, dirID ouicrypto.Hash) (map[string]namedEntry, map[string]bool, error) {
	if err := r.caps.Require(access.ModeRead); err != nil {
		return nil, nil, err
	}

	roots, err := r.nodes.AllRoots(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("repository: listing branches: %w", err)
	}
	sort.Slice(roots, func(i, j int) bool {
		return bytes.Compare(roots[i].UserId[:], roots[j].UserId[:]) < 0
	})

	best := make(map[string]namedEntry)
	forks := make(map[string]bool)

	for _, root := range roots {
		entries, err := r.objects.ReadDirectory(ctx, r.caps.ReadKey, root.RootHash, dirID)
		if ouierr.Is(err, ouierr.EntryNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("repository: reading directory: %w", err)
		}

		for _, e := range entries {
			current, ok := best[e.Name]
			if !ok {
				best[e.Name] = namedEntry{Entry: e, RootHash: root.RootHash}
				continue
			}

			currentVV, err := branch.DecodeVersionVector(current.Entry.VersionVector)
			if err != nil {
				return nil, nil, fmt.Errorf("repository: merging %q: %w", e.Name, err)
			}
			newVV, err := branch.DecodeVersionVector(e.VersionVector)
			if err != nil {
				return nil, nil, fmt.Errorf("repository: merging %q: %w", e.Name, err)
			}

			switch currentVV.Compare(newVV) {
			case branch.Before:
				best[e.Name] = namedEntry{Entry: e, RootHash: root.RootHash}
				delete(forks, e.Name)
			case branch.After:
				// current already dominates; keep it.
			case branch.Equal:
				if current.Entry.Kind != e.Kind || current.Entry.ObjectId != e.ObjectId {
					forks[e.Name] = true
				}
			case branch.Concurrent:
				forks[e.Name] = true
			}
		}
	}

	return best, forks, nil
}

// lookup resolves one name inside dirID against the merged
// cross-branch view. Returns ouierr.EntryNotFound for an absent or
// tombstoned name, ouierr.AmbiguousEntry for a forked one.
func (r *Repository) lookup(ctx context.Context, dirID ouicrypto.Hash, name string) (namedEntry, error) {
	best, forks, err := r.mergedEntries(ctx, dirID)
	if err != nil {
		return namedEntry{}, err
	}
	if forks[name] {
		return namedEntry{}, fmt.Errorf("%w: %s", ouierr.AmbiguousEntry, name)
	}
	entry, ok := best[name]
	if !ok || entry.Entry.Kind == objectlayer.KindTombstone {
		return namedEntry{}, fmt.Errorf("%w: %s", ouierr.EntryNotFound, name)
	}
	return entry, nil
}

// resolvePath walks path component by component through the merged
// cross-branch view and returns the entry it names. The root path
// resolves to a synthetic directory entry at rootDirectoryId.
func (r *Repository) resolvePath(ctx context.Context, path string) (namedEntry, error) {
	components, err := splitPath(path)
	if err != nil {
		return namedEntry{}, err
	}
	if len(components) == 0 {
		return namedEntry{Entry: objectlayer.Entry{Kind: objectlayer.KindDirectory, ObjectId: rootDirectoryId}}, nil
	}

	dirID := rootDirectoryId
	var entry namedEntry
	for i, name := range components {
		entry, err = r.lookup(ctx, dirID, name)
		if err != nil {
			return namedEntry{}, err
		}
		if i < len(components)-1 {
			if entry.Entry.Kind != objectlayer.KindDirectory {
				return namedEntry{}, fmt.Errorf("%w: %s is not a directory", ouierr.InvalidArgument, name)
			}
			dirID = entry.Entry.ObjectId
		}
	}
	return entry, nil
}

// resolveParentDir walks every component of path but the last and
// returns the containing directory's object id and the final
// component's name, without requiring the final component itself to
// exist — the shape every create/write/remove/move verb needs.
func (r *Repository) resolveParentDir(ctx context.Context, path string) (ouicrypto.Hash, string, error) {
	components, err := splitPath(path)
	if err != nil {
		return ouicrypto.Hash{}, "", err
	}
	if len(components) == 0 {
		return ouicrypto.Hash{}, "", fmt.Errorf("%w: path must name an entry, not the root", ouierr.InvalidArgument)
	}

	dirID := rootDirectoryId
	for _, name := range components[:len(components)-1] {
		entry, err := r.lookup(ctx, dirID, name)
		if err != nil {
			return ouicrypto.Hash{}, "", err
		}
		if entry.Entry.Kind != objectlayer.KindDirectory {
			return ouicrypto.Hash{}, "", fmt.Errorf("%w: %s is not a directory", ouierr.InvalidArgument, name)
		}
		dirID = entry.Entry.ObjectId
	}
	return dirID, components[len(components)-1], nil
}

// entriesAt reads dirID's listing under rootHash, falling back to the
// merged cross-branch view (dropping the RootHash each entry carries,
// since they're about to be rewritten under the local branch) when
// rootHash has never stored dirID — the copy-on-write adoption
// spec.md's three-tier model implies for the first local touch of a
// directory that so far only exists in a remote branch (DESIGN.md
// Open Question #3).
func (r *Repository) entriesAt(ctx context.Context, rootHash, dirID ouicrypto.Hash) ([]objectlayer.Entry, error) {
	entries, err := r.objects.ReadDirectory(ctx, r.caps.ReadKey, rootHash, dirID)
	if err == nil {
		return entries, nil
	}
	if !ouierr.Is(err, ouierr.EntryNotFound) {
		return nil, fmt.Errorf("repository: reading directory: %w", err)
	}

	merged, _, err := r.mergedEntries(ctx, dirID)
	if err != nil {
		return nil, err
	}
	out := make([]objectlayer.Entry, 0, len(merged))
	for _, ne := range merged {
		out = append(out, ne.Entry)
	}
	return out, nil
}

// fileContentAt reads fileID's content under localRoot, falling back
// to fallbackRoot (the merge winner's branch) on the same
// copy-on-write adoption rule as entriesAt.
func (r *Repository) fileContentAt(ctx context.Context, localRoot, fallbackRoot, fileID ouicrypto.Hash) ([]byte, error) {
	data, err := r.objects.ReadFile(ctx, r.caps.ReadKey, localRoot, fileID)
	if err == nil {
		return data, nil
	}
	if !ouierr.Is(err, ouierr.EntryNotFound) {
		return nil, fmt.Errorf("repository: reading file: %w", err)
	}

	data, err = r.objects.ReadFile(ctx, r.caps.ReadKey, fallbackRoot, fileID)
	if ouierr.Is(err, ouierr.EntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: reading file: %w", err)
	}
	return data, nil
}

// upsertEntry returns entries with name's entry replaced (or
// appended, if absent) by whatever build returns. build receives the
// previous entry (zero value if name was absent) and whether it
// existed, and returns an error to abort the mutation (e.g.
// ouierr.EntryExists for a create that finds something already
// there). The returned entry's LocalSequence is set to one past the
// previous entry's, or to 1 for a new name.
func upsertEntry(entries []objectlayer.Entry, name string, build func(previous objectlayer.Entry, exists bool) (objectlayer.Entry, error)) ([]objectlayer.Entry, error) {
	for i, e := range entries {
		if e.Name == name {
			updated, err := build(e, true)
			if err != nil {
				return nil, err
			}
			updated.LocalSequence = e.LocalSequence + 1
			out := append([]objectlayer.Entry(nil), entries...)
			out[i] = updated
			return out, nil
		}
	}
	created, err := build(objectlayer.Entry{}, false)
	if err != nil {
		return nil, err
	}
	created.LocalSequence = 1
	return append(append([]objectlayer.Entry(nil), entries...), created), nil
}

// bumpVersionVector decodes existing, increments userID's entry, and
// re-encodes it — the per-entry clock advance every directory write
// performs (spec.md §4.6), distinct from the branch-level
// VersionVector Branch.Mutate advances.
func bumpVersionVector(existing []byte, userID ouicrypto.UserId) ([]byte, error) {
	vv, err := branch.DecodeVersionVector(existing)
	if err != nil {
		return nil, err
	}
	return branch.EncodeVersionVector(vv.Increment(userID))
}
