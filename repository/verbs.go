// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"fmt"

	"github.com/ouisync-go/ouisync/access"
	"github.com/ouisync-go/ouisync/branch"
	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// ReadFile returns up to size bytes of path's content starting at
// offset, reading across the merged cross-branch view (spec.md
// §4.9). A size of zero reads to the end of the file. Requires at
// least ModeRead.
func (r *Repository) ReadFile(ctx context.Context, path string, offset, size int64) ([]byte, error) {
	if err := r.caps.Require(access.ModeRead); err != nil {
		return nil, err
	}
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("%w: negative offset or size", ouierr.InvalidArgument)
	}

	entry, err := r.resolvePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if entry.Entry.Kind != objectlayer.KindFile {
		return nil, fmt.Errorf("%w: %s is not a file", ouierr.InvalidArgument, path)
	}

	data, err := r.objects.ReadFile(ctx, r.caps.ReadKey, entry.RootHash, entry.Entry.ObjectId)
	if err != nil {
		return nil, fmt.Errorf("repository: read_file %s: %w", path, err)
	}

	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + size
	if end > int64(len(data)) || size == 0 {
		end = int64(len(data))
	}
	return data[offset:end], nil
}

// CreateFile creates an empty file at path. Returns ouierr.EntryExists
// if path is already occupied.
func (r *Repository) CreateFile(ctx context.Context, path string) error {
	if err := r.writeGuard(); err != nil {
		return err
	}

	dirID, name, err := r.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	if _, err := r.lookup(ctx, dirID, name); err == nil {
		return fmt.Errorf("%w: %s", ouierr.EntryExists, path)
	} else if !ouierr.Is(err, ouierr.EntryNotFound) {
		return err
	}

	fileID, err := objectlayer.NewFileId()
	if err != nil {
		return fmt.Errorf("repository: create_file %s: %w", path, err)
	}
	userID := r.keyPair.UserId()

	return r.mutate(ctx, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		rootHash, err := r.objects.WriteFile(ctx, r.caps.ReadKey, ouicrypto.Hash(userID), rootHash, fileID, nil)
		if err != nil {
			return ouicrypto.Hash{}, err
		}
		return r.applyDirEntry(ctx, rootHash, dirID, name, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			if exists && prev.Kind != objectlayer.KindTombstone {
				return objectlayer.Entry{}, fmt.Errorf("%w: %s", ouierr.EntryExists, path)
			}
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: name, Kind: objectlayer.KindFile, ObjectId: fileID, VersionVector: vv}, nil
		})
	})
}

// CreateDirectory creates an empty directory at path. Returns
// ouierr.EntryExists if path is already occupied.
func (r *Repository) CreateDirectory(ctx context.Context, path string) error {
	if err := r.writeGuard(); err != nil {
		return err
	}

	dirID, name, err := r.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	if _, err := r.lookup(ctx, dirID, name); err == nil {
		return fmt.Errorf("%w: %s", ouierr.EntryExists, path)
	} else if !ouierr.Is(err, ouierr.EntryNotFound) {
		return err
	}

	newDirID, err := objectlayer.NewDirectoryId()
	if err != nil {
		return fmt.Errorf("repository: create_directory %s: %w", path, err)
	}
	userID := r.keyPair.UserId()

	return r.mutate(ctx, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		rootHash, err := r.objects.NewEmptyDirectory(ctx, r.caps.ReadKey, ouicrypto.Hash(userID), rootHash, newDirID)
		if err != nil {
			return ouicrypto.Hash{}, err
		}
		return r.applyDirEntry(ctx, rootHash, dirID, name, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			if exists && prev.Kind != objectlayer.KindTombstone {
				return objectlayer.Entry{}, fmt.Errorf("%w: %s", ouierr.EntryExists, path)
			}
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: name, Kind: objectlayer.KindDirectory, ObjectId: newDirID, VersionVector: vv}, nil
		})
	})
}

// WriteFile writes data at offset into the file at path, growing it if
// necessary. If the local branch has never written this file before
// (it was only ever touched by a remote branch), the write adopts the
// merge winner's content as a base — the copy-on-write rule described
// on entriesAt/fileContentAt.
func (r *Repository) WriteFile(ctx context.Context, path string, offset int64, data []byte) error {
	if err := r.writeGuard(); err != nil {
		return err
	}
	if offset < 0 {
		return fmt.Errorf("%w: negative offset", ouierr.InvalidArgument)
	}

	dirID, name, err := r.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	entry, err := r.lookup(ctx, dirID, name)
	if err != nil {
		return err
	}
	if entry.Entry.Kind != objectlayer.KindFile {
		return fmt.Errorf("%w: %s is not a file", ouierr.InvalidArgument, path)
	}

	fileID := entry.Entry.ObjectId
	fallbackRoot := entry.RootHash
	userID := r.keyPair.UserId()

	return r.mutate(ctx, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		base, err := r.fileContentAt(ctx, rootHash, fallbackRoot, fileID)
		if err != nil {
			return ouicrypto.Hash{}, err
		}

		end := offset + int64(len(data))
		if end < int64(len(base)) {
			end = int64(len(base))
		}
		next := make([]byte, end)
		copy(next, base)
		copy(next[offset:], data)

		rootHash, err = r.objects.WriteFile(ctx, r.caps.ReadKey, ouicrypto.Hash(userID), rootHash, fileID, next)
		if err != nil {
			return ouicrypto.Hash{}, err
		}
		return r.applyDirEntry(ctx, rootHash, dirID, name, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: name, Kind: objectlayer.KindFile, ObjectId: fileID, VersionVector: vv}, nil
		})
	})
}

// Truncate resizes the file at path to size bytes, zero-filling any
// growth, with the same adoption rule as WriteFile.
func (r *Repository) Truncate(ctx context.Context, path string, size int64) error {
	if err := r.writeGuard(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size", ouierr.InvalidArgument)
	}

	dirID, name, err := r.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	entry, err := r.lookup(ctx, dirID, name)
	if err != nil {
		return err
	}
	if entry.Entry.Kind != objectlayer.KindFile {
		return fmt.Errorf("%w: %s is not a file", ouierr.InvalidArgument, path)
	}

	fileID := entry.Entry.ObjectId
	fallbackRoot := entry.RootHash
	userID := r.keyPair.UserId()

	return r.mutate(ctx, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		base, err := r.fileContentAt(ctx, rootHash, fallbackRoot, fileID)
		if err != nil {
			return ouicrypto.Hash{}, err
		}

		next := make([]byte, size)
		copy(next, base)

		rootHash, err = r.objects.WriteFile(ctx, r.caps.ReadKey, ouicrypto.Hash(userID), rootHash, fileID, next)
		if err != nil {
			return ouicrypto.Hash{}, err
		}
		return r.applyDirEntry(ctx, rootHash, dirID, name, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: name, Kind: objectlayer.KindFile, ObjectId: fileID, VersionVector: vv}, nil
		})
	})
}

// Remove tombstones the entry at path. If it is a directory holding
// live (non-tombstone) entries in the merged view and recursive is
// false, returns ouierr.DirectoryNotEmpty. A recursive removal still
// only tombstones the directory's own entry: children become
// unreachable from it but their own branches retain them until those
// branches independently remove them too, which is the same
// tombstone-propagation-by-reconciliation spec.md's eventually
// consistent model relies on elsewhere (this intentionally does not
// attempt to also tombstone every descendant in one transaction).
func (r *Repository) Remove(ctx context.Context, path string, recursive bool) error {
	if err := r.writeGuard(); err != nil {
		return err
	}

	dirID, name, err := r.resolveParentDir(ctx, path)
	if err != nil {
		return err
	}
	entry, err := r.lookup(ctx, dirID, name)
	if err != nil {
		return err
	}

	if entry.Entry.Kind == objectlayer.KindDirectory && !recursive {
		children, _, err := r.mergedEntries(ctx, entry.Entry.ObjectId)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.Entry.Kind != objectlayer.KindTombstone {
				return fmt.Errorf("%w: %s", ouierr.DirectoryNotEmpty, path)
			}
		}
	}

	userID := r.keyPair.UserId()

	return r.mutate(ctx, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		return r.applyDirEntry(ctx, rootHash, dirID, name, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: name, Kind: objectlayer.KindTombstone, VersionVector: vv}, nil
		})
	})
}

// MoveEntry moves the entry at src to dst, within one commit whether
// or not src and dst share a parent directory. This is the uniform
// resolution DESIGN.md settles on for Open Question #3: a move is a
// tombstone at the old name plus a fresh entry at the new one, rather
// than an in-place rename, so that a concurrent remote write to the
// source name can never silently resurrect under the destination name.
func (r *Repository) MoveEntry(ctx context.Context, src, dst string) error {
	if err := r.writeGuard(); err != nil {
		return err
	}

	srcDir, srcName, err := r.resolveParentDir(ctx, src)
	if err != nil {
		return err
	}
	srcEntry, err := r.lookup(ctx, srcDir, srcName)
	if err != nil {
		return err
	}

	dstDir, dstName, err := r.resolveParentDir(ctx, dst)
	if err != nil {
		return err
	}
	if _, err := r.lookup(ctx, dstDir, dstName); err == nil {
		return fmt.Errorf("%w: %s", ouierr.EntryExists, dst)
	} else if !ouierr.Is(err, ouierr.EntryNotFound) {
		return err
	}

	userID := r.keyPair.UserId()
	kind, objectID := srcEntry.Entry.Kind, srcEntry.Entry.ObjectId

	return r.mutate(ctx, func(rootHash ouicrypto.Hash) (ouicrypto.Hash, error) {
		rootHash, err := r.applyDirEntry(ctx, rootHash, srcDir, srcName, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: srcName, Kind: objectlayer.KindTombstone, VersionVector: vv}, nil
		})
		if err != nil {
			return ouicrypto.Hash{}, err
		}

		return r.applyDirEntry(ctx, rootHash, dstDir, dstName, func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error) {
			vv, err := newEntryVersionVector(prev, exists, userID)
			if err != nil {
				return objectlayer.Entry{}, err
			}
			return objectlayer.Entry{Name: dstName, Kind: kind, ObjectId: objectID, VersionVector: vv}, nil
		})
	})
}

// applyDirEntry reads dirID's entries under rootHash (adopting the
// merged view if the local branch has never written dirID), applies
// build to produce name's new entry, and writes the patched listing
// back, returning the resulting root hash.
func (r *Repository) applyDirEntry(ctx context.Context, rootHash, dirID ouicrypto.Hash, name string, build func(prev objectlayer.Entry, exists bool) (objectlayer.Entry, error)) (ouicrypto.Hash, error) {
	entries, err := r.entriesAt(ctx, rootHash, dirID)
	if err != nil {
		return ouicrypto.Hash{}, err
	}

	entries, err = upsertEntry(entries, name, build)
	if err != nil {
		return ouicrypto.Hash{}, err
	}

	return r.objects.WriteDirectory(ctx, r.caps.ReadKey, ouicrypto.Hash(r.keyPair.UserId()), rootHash, dirID, entries)
}

// newEntryVersionVector advances prev's per-entry clock for userID,
// starting a fresh one if the entry didn't previously exist.
func newEntryVersionVector(prev objectlayer.Entry, exists bool, userID ouicrypto.UserId) ([]byte, error) {
	if !exists {
		return branch.EncodeVersionVector(branch.NewVersionVector().Increment(userID))
	}
	return bumpVersionVector(prev.VersionVector, userID)
}
