// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ouisync-go/ouisync/access"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenRepositoryCreateThenReopen(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "repo.sqlite")
	passphraseFile := writeTempFile(t, dir, "passphrase", "correct horse battery staple\n")

	ctx := context.Background()

	repo, err := openRepository(ctx, storePath, passphraseFile, "", true, nil)
	if err != nil {
		t.Fatalf("openRepository (create): %v", err)
	}
	repoID := repo.ID()
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Re-running with --create against an existing store must not
	// fail, and must reopen the same repository.
	repo, err = openRepository(ctx, storePath, passphraseFile, "", true, nil)
	if err != nil {
		t.Fatalf("openRepository (reopen with create): %v", err)
	}
	defer repo.Close()

	if repo.ID() != repoID {
		t.Fatalf("reopened repository id %x, want %x", repo.ID(), repoID)
	}
	if repo.Mode() != access.ModeWrite {
		t.Fatalf("Mode() = %v, want ModeWrite", repo.Mode())
	}
}

func TestOpenRepositoryRequiresPassphraseOrToken(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "repo.sqlite")

	_, err := openRepository(context.Background(), storePath, "", "", false, nil)
	if err == nil {
		t.Fatalf("openRepository with no passphrase/token file succeeded, want error")
	}
}

func TestOpenRepositoryViaShareToken(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "repo.sqlite")
	passphraseFile := writeTempFile(t, dir, "passphrase", "correct horse battery staple")

	ctx := context.Background()
	repo, err := openRepository(ctx, storePath, passphraseFile, "", true, nil)
	if err != nil {
		t.Fatalf("openRepository (create): %v", err)
	}

	token, err := repo.CreateShareToken(access.ModeRead)
	if err != nil {
		t.Fatalf("CreateShareToken: %v", err)
	}
	encoded := access.Encode(token)
	token.Close()
	repo.Close()

	tokenFile := writeTempFile(t, dir, "token", encoded)

	reopened, err := openRepository(ctx, storePath, "", tokenFile, false, nil)
	if err != nil {
		t.Fatalf("openRepository (token): %v", err)
	}
	defer reopened.Close()

	if reopened.Mode() != access.ModeRead {
		t.Fatalf("Mode() = %v, want ModeRead", reopened.Mode())
	}
}

func TestOpenRepositoryViaLockedShareToken(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "repo.sqlite")
	ownerPassphraseFile := writeTempFile(t, dir, "owner-passphrase", "correct horse battery staple")

	ctx := context.Background()
	repo, err := openRepository(ctx, storePath, ownerPassphraseFile, "", true, nil)
	if err != nil {
		t.Fatalf("openRepository (create): %v", err)
	}

	token, err := repo.CreateShareToken(access.ModeBlind)
	if err != nil {
		t.Fatalf("CreateShareToken: %v", err)
	}
	encoded, err := access.EncodeLocked(token, "token passphrase")
	if err != nil {
		t.Fatalf("EncodeLocked: %v", err)
	}
	token.Close()
	repo.Close()

	tokenFile := writeTempFile(t, dir, "token", encoded)
	tokenPassphraseFile := writeTempFile(t, dir, "token-passphrase", "token passphrase")

	reopened, err := openRepository(ctx, storePath, tokenPassphraseFile, tokenFile, false, nil)
	if err != nil {
		t.Fatalf("openRepository (locked token): %v", err)
	}
	defer reopened.Close()

	if reopened.Mode() != access.ModeBlind {
		t.Fatalf("Mode() = %v, want ModeBlind", reopened.Mode())
	}
}

func TestDecodeTokenRejectsLockedWithoutPassphrase(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "repo.sqlite")
	passphraseFile := writeTempFile(t, dir, "passphrase", "correct horse battery staple")

	repo, err := openRepository(context.Background(), storePath, passphraseFile, "", true, nil)
	if err != nil {
		t.Fatalf("openRepository (create): %v", err)
	}
	token, err := repo.CreateShareToken(access.ModeRead)
	if err != nil {
		t.Fatalf("CreateShareToken: %v", err)
	}
	encoded, err := access.EncodeLocked(token, "secret")
	if err != nil {
		t.Fatalf("EncodeLocked: %v", err)
	}
	token.Close()
	repo.Close()

	if _, err := decodeToken(encoded, ""); err == nil {
		t.Fatalf("decodeToken on locked token with no passphrase file succeeded, want error")
	}
}
