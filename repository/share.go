// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"fmt"

	"github.com/ouisync-go/ouisync/access"
	"github.com/ouisync-go/ouisync/lib/secret"
	"github.com/ouisync-go/ouisync/ouierr"
)

// CreateShareToken mints a Token granting mode, derived from this
// Repository's own capabilities. Keys only ever flow downward through
// the schedule (spec.md §4.4): a ModeRead repository can mint a
// ModeRead or ModeBlind token but never a ModeWrite one, regardless of
// what mode is requested.
func (r *Repository) CreateShareToken(mode access.Mode) (access.Token, error) {
	if !r.caps.Mode.Allows(mode) {
		return access.Token{}, fmt.Errorf("%w: repository is open at %v, cannot mint a %v token", ouierr.PermissionDenied, r.caps.Mode, mode)
	}

	var source *secret.Buffer
	switch mode {
	case access.ModeWrite:
		source = r.caps.WriteKey
	case access.ModeRead:
		source = r.caps.ReadKey
	case access.ModeBlind:
		key, err := secret.NewFromBytes(append([]byte(nil), r.caps.BlindId[:]...))
		if err != nil {
			return access.Token{}, fmt.Errorf("repository: minting share token: %w", err)
		}
		return access.Token{RepositoryId: r.id, Mode: access.ModeBlind, Key: key}, nil
	default:
		return access.Token{}, fmt.Errorf("%w: invalid access mode %v", ouierr.InvalidArgument, mode)
	}

	key, err := secret.NewFromBytes(append([]byte(nil), source.Bytes()...))
	if err != nil {
		return access.Token{}, fmt.Errorf("repository: minting share token: %w", err)
	}
	return access.Token{RepositoryId: r.id, Mode: mode, Key: key}, nil
}
