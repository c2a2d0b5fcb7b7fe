// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsmount

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ouisync-go/ouisync/repository"
)

// fuseAvailable skips the test when /dev/fuse is absent (sandboxed CI
// runners without the FUSE kernel module).
func fuseAvailable(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("skipping: /dev/fuse not available")
	}
}

func testMount(t *testing.T, readOnly bool) (mountpoint string, repo *repository.Repository) {
	t.Helper()
	fuseAvailable(t)

	root := t.TempDir()
	ctx := context.Background()

	storePath := filepath.Join(root, "repo.sqlite")
	if _, err := repository.Create(ctx, storePath, []byte("correct horse battery staple"), repository.Options{}); err != nil {
		t.Fatalf("repository.Create: %v", err)
	}

	repo, err := repository.Open(ctx, storePath, []byte("correct horse battery staple"), repository.Options{})
	if err != nil {
		t.Fatalf("repository.Open: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	if err := repo.CreateFile(ctx, "/hello.txt"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := repo.WriteFile(ctx, "/hello.txt", 0, []byte("hello, ouisync")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := repo.CreateDirectory(ctx, "/docs"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}

	mountpoint = filepath.Join(root, "mount")
	server, err := Mount(Options{
		Mountpoint: mountpoint,
		Repository: repo,
		ReadOnly:   readOnly,
	})
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Unmount(); err != nil {
			t.Errorf("Unmount: %v", err)
		}
	})

	return mountpoint, repo
}

func TestMountListsExistingEntries(t *testing.T) {
	mountpoint, _ := testMount(t, false)

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	if !names["hello.txt"] || !names["docs"] {
		t.Fatalf("ReadDir(%s) = %v, want hello.txt and docs", mountpoint, names)
	}
}

func TestMountReadsFileContent(t *testing.T) {
	mountpoint, _ := testMount(t, false)

	data, err := os.ReadFile(filepath.Join(mountpoint, "hello.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello, ouisync" {
		t.Fatalf("ReadFile = %q, want %q", data, "hello, ouisync")
	}
}

func TestMountCreateWriteRoundTrip(t *testing.T) {
	mountpoint, _ := testMount(t, false)

	path := filepath.Join(mountpoint, "docs", "note.txt")
	if err := os.WriteFile(path, []byte("written through the mount"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "written through the mount" {
		t.Fatalf("ReadFile = %q, want %q", data, "written through the mount")
	}
}

func TestMountRemoveEntry(t *testing.T) {
	mountpoint, _ := testMount(t, false)

	if err := os.Remove(filepath.Join(mountpoint, "hello.txt")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mountpoint, "hello.txt")); !os.IsNotExist(err) {
		t.Fatalf("Stat after Remove = %v, want IsNotExist", err)
	}
}

func TestReadOnlyMountRejectsWrites(t *testing.T) {
	mountpoint, _ := testMount(t, true)

	err := os.WriteFile(filepath.Join(mountpoint, "blocked.txt"), []byte("nope"), 0o644)
	if err == nil {
		t.Fatalf("WriteFile on read-only mount succeeded, want error")
	}
}
