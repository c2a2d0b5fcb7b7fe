// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ouierr defines the error taxonomy shared by every ouisync-go
// package (spec.md §7).
//
// The pack's dominant idiom wraps plain stdlib errors with
// fmt.Errorf("...: %w", err) rather than building a bespoke
// Path/Op/Kind struct (contrast upspin's errors.E design, considered
// and rejected — see DESIGN.md). ouisync-go follows that idiom: a
// small set of sentinel values, compared with errors.Is, wrapped by
// callers with fmt.Errorf for context. Kind itself carries no payload;
// anything operation-specific belongs in the wrapping message.
package ouierr

import "errors"

// Kind classifies an error into one of the categories enumerated in
// spec.md §7. Compare with errors.Is(err, ouierr.EntryNotFound), never
// with a type assertion — Kind values are sentinels, not a type.
type Kind error

var (
	// Store signals an I/O or transactional failure in the backing
	// database. Always wraps the underlying sqlite error.
	Store Kind = errors.New("ouierr: store")

	// PermissionDenied signals that the caller's secrets are
	// insufficient for the requested operation (e.g. a read-mode
	// token attempting a write).
	PermissionDenied Kind = errors.New("ouierr: permission denied")

	// MalformedData signals an invalid share token, a corrupted
	// block, or bad message framing.
	MalformedData Kind = errors.New("ouierr: malformed data")

	// EntryExists signals that a create operation targeted a path
	// that already has a live (non-tombstone) entry.
	EntryExists Kind = errors.New("ouierr: entry exists")

	// EntryNotFound signals that a path has no entry, or its entry
	// is a tombstone.
	EntryNotFound Kind = errors.New("ouierr: entry not found")

	// AmbiguousEntry signals that a path resolves to genuinely
	// concurrent, unreconciled versions across branches.
	AmbiguousEntry Kind = errors.New("ouierr: ambiguous entry")

	// DirectoryNotEmpty signals a non-recursive remove of a
	// directory that still has live children.
	DirectoryNotEmpty Kind = errors.New("ouierr: directory not empty")

	// OperationNotSupported signals a verb the repository
	// deliberately does not implement for the given entry kind.
	OperationNotSupported Kind = errors.New("ouierr: operation not supported")

	// StorageVersionMismatch signals that a repository's on-disk
	// schema version is newer than this build understands. The
	// library never downgrades.
	StorageVersionMismatch Kind = errors.New("ouierr: storage version mismatch")

	// ConnectionLost signals that a peer session ended before an
	// in-flight request completed.
	ConnectionLost Kind = errors.New("ouierr: connection lost")

	// Cancelled signals that the caller's context was cancelled.
	// Cancellation is always reported as this Kind, never as Other.
	Cancelled Kind = errors.New("ouierr: cancelled")

	// Config signals an invalid or missing configuration value.
	Config Kind = errors.New("ouierr: config")

	// InvalidArgument signals a caller-supplied argument that is
	// structurally invalid independent of any stored state (a
	// negative offset, an empty path component).
	InvalidArgument Kind = errors.New("ouierr: invalid argument")

	// Other is the catch-all for failures that do not fit any of
	// the above. Cancellation must never surface as Other — see
	// Cancelled.
	Other Kind = errors.New("ouierr: other")
)

// Is reports whether err is categorized as kind, looking through any
// number of fmt.Errorf("...: %w", ...) wrappers.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
