// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/ouisync-go/ouisync/access"
	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouierr"
)

// DirEntry is one merged, tombstone-filtered listing row. Ambiguous is
// set when two or more branches hold concurrent, differing entries
// under this name (the same condition ReadFile/etc. report as
// ouierr.AmbiguousEntry on direct lookup).
type DirEntry struct {
	Name      string
	Kind      objectlayer.EntryKind
	Ambiguous bool
}

// EntryInfo describes the kind and, for files, content length of a
// resolved path. Size is always zero for directories.
type EntryInfo struct {
	Kind objectlayer.EntryKind
	Size int64
}

// ListDirectory returns the merged listing of the directory at path,
// sorted by name. This is read-mostly support for non-core adapters
// (fsmount) and debugging tools; it is not itself one of spec.md
// §4.9's named verbs.
func (r *Repository) ListDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	if err := r.caps.Require(access.ModeRead); err != nil {
		return nil, err
	}

	entry, err := r.resolvePath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("repository: list_directory %s: %w", path, err)
	}
	if entry.Entry.Kind != objectlayer.KindDirectory {
		return nil, fmt.Errorf("repository: list_directory %s: %w: not a directory", path, ouierr.InvalidArgument)
	}

	named, forks, err := r.mergedEntries(ctx, entry.Entry.ObjectId)
	if err != nil {
		return nil, fmt.Errorf("repository: list_directory %s: %w", path, err)
	}

	out := make([]DirEntry, 0, len(named))
	for name, ne := range named {
		if ne.Entry.Kind == objectlayer.KindTombstone {
			continue
		}
		out = append(out, DirEntry{Name: name, Kind: ne.Entry.Kind, Ambiguous: forks[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// Stat resolves path and reports its kind and, for a file, its
// current content length. Returns ouierr.AmbiguousEntry if path names
// a fork.
func (r *Repository) Stat(ctx context.Context, path string) (EntryInfo, error) {
	if err := r.caps.Require(access.ModeRead); err != nil {
		return EntryInfo{}, err
	}

	entry, err := r.resolvePath(ctx, path)
	if err != nil {
		return EntryInfo{}, fmt.Errorf("repository: stat %s: %w", path, err)
	}

	info := EntryInfo{Kind: entry.Entry.Kind}
	if entry.Entry.Kind == objectlayer.KindFile {
		data, err := r.objects.ReadFile(ctx, r.caps.ReadKey, entry.RootHash, entry.Entry.ObjectId)
		if err != nil {
			return EntryInfo{}, fmt.Errorf("repository: stat %s: %w", path, err)
		}
		info.Size = int64(len(data))
	}

	return info, nil
}
