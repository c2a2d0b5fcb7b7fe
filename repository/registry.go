// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"fmt"
	"sync"

	"github.com/ouisync-go/ouisync/ouicrypto"
	"github.com/ouisync-go/ouisync/ouierr"
)

// Total lock order across the ouisync-go process (spec.md §5):
//
//	peer table < repository registry < per-repo metadata <
//	per-branch write lock (Repository.mu) < block_store_tx
//
// Code only ever acquires locks downward through this list; the
// registry below is the one piece of process-wide state besides
// package lib/ouilog's default logger (spec.md §9: "only the logger
// and the process-wide repository registry are legitimately global").
// Callers can look repositories up here by RepositoryId instead of
// threading a *Repository through every layer; netpeer and fsmount do
// not use the registry.
var (
	registryMu sync.Mutex
	registry   = map[ouicrypto.RepositoryId]*Repository{}
)

// Register adds repo to the process-wide registry. Returns
// ouierr.EntryExists if a repository with the same id is already
// registered — a process holds at most one open Repository per
// RepositoryId.
func Register(repo *Repository) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[repo.id]; exists {
		return fmt.Errorf("%w: repository %x already registered", ouierr.EntryExists, repo.id)
	}
	registry[repo.id] = repo
	return nil
}

// Unregister removes id from the registry, if present. It does not
// close the Repository; callers still own that.
func Unregister(id ouicrypto.RepositoryId) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

// Lookup returns the registered Repository for id, if any.
func Lookup(id ouicrypto.RepositoryId) (*Repository, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	repo, ok := registry[id]
	return repo, ok
}

// ListRegistered returns the RepositoryId of every currently
// registered repository.
func ListRegistered() []ouicrypto.RepositoryId {
	registryMu.Lock()
	defer registryMu.Unlock()

	ids := make([]ouicrypto.RepositoryId, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	return ids
}
