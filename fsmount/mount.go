// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsmount

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/ouisync-go/ouisync/objectlayer"
	"github.com/ouisync-go/ouisync/ouierr"
	"github.com/ouisync-go/ouisync/repository"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// Repository is the already-open repository to expose.
	Repository *repository.Repository

	// ReadOnly forces every write verb to fail with EROFS
	// regardless of the repository's own access.Mode. Useful for
	// mounting a write-capable repository read-only.
	ReadOnly bool

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Mount mounts a repository's file tree at the configured mountpoint.
// The caller must call Unmount on the returned Server when done. The
// mountpoint directory is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("fsmount: mountpoint is required")
	}
	if options.Repository == nil {
		return nil, fmt.Errorf("fsmount: repository is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("fsmount: creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &ouiNode{options: &options, path: "/"}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "ouisync",
			Name:       "ouisync",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fsmount: mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("ouisync repository mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// ouiNode is both the FUSE root and every non-root inode: the
// repository's entry tree is dynamic (branches fork and merge at
// any time), so unlike a static CAS mount there is no fixed child set
// to build once in OnAdd — every Lookup/Readdir re-resolves against
// the repository's current merged view.
type ouiNode struct {
	gofuse.Inode
	options *Options
	path    string // full repository path; "/" for root
}

var (
	_ gofuse.InodeEmbedder = (*ouiNode)(nil)
	_ gofuse.NodeLookuper  = (*ouiNode)(nil)
	_ gofuse.NodeReaddirer = (*ouiNode)(nil)
	_ gofuse.NodeGetattrer = (*ouiNode)(nil)
	_ gofuse.NodeOpener    = (*ouiNode)(nil)
	_ gofuse.NodeReader    = (*ouiNode)(nil)
	_ gofuse.NodeWriter    = (*ouiNode)(nil)
	_ gofuse.NodeCreater   = (*ouiNode)(nil)
	_ gofuse.NodeMkdirer   = (*ouiNode)(nil)
	_ gofuse.NodeUnlinker  = (*ouiNode)(nil)
	_ gofuse.NodeRmdirer   = (*ouiNode)(nil)
	_ gofuse.NodeRenamer   = (*ouiNode)(nil)
	_ gofuse.NodeSetattrer = (*ouiNode)(nil)
)

func (n *ouiNode) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *ouiNode) repo() *repository.Repository {
	return n.options.Repository
}

func modeFor(kind objectlayer.EntryKind) uint32 {
	if kind == objectlayer.KindDirectory {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

func permFor(kind objectlayer.EntryKind, readOnly bool) uint32 {
	if kind == objectlayer.KindDirectory {
		if readOnly {
			return 0o555
		}
		return 0o755
	}
	if readOnly {
		return 0o444
	}
	return 0o644
}

func (n *ouiNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := n.childPath(name)

	info, err := n.repo().Stat(ctx, childPath)
	if err != nil {
		return nil, errnoFor(err)
	}

	child := n.NewInode(ctx, &ouiNode{options: n.options, path: childPath},
		gofuse.StableAttr{Mode: modeFor(info.Kind)})

	out.Mode = modeFor(info.Kind) | permFor(info.Kind, n.options.ReadOnly)
	out.Size = uint64(info.Size)
	return child, 0
}

func (n *ouiNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	entries, err := n.repo().ListDirectory(ctx, n.path)
	if err != nil {
		return nil, errnoFor(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, fuse.DirEntry{Name: entry.Name, Mode: modeFor(entry.Kind)})
	}
	return &sliceDirStream{entries: out}, 0
}

func (n *ouiNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.repo().Stat(ctx, n.path)
	if err != nil {
		return errnoFor(err)
	}
	out.Mode = modeFor(info.Kind) | permFor(info.Kind, n.options.ReadOnly)
	out.Size = uint64(info.Size)
	if info.Kind == objectlayer.KindFile {
		out.Blocks = (out.Size + 511) / 512
	}
	return 0
}

func (n *ouiNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if n.options.ReadOnly && flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, 0, 0
}

func (n *ouiNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := n.repo().ReadFile(ctx, n.path, off, int64(len(dest)))
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(data), 0
}

func (n *ouiNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if n.options.ReadOnly {
		return 0, syscall.EROFS
	}
	if err := n.repo().WriteFile(ctx, n.path, off, data); err != nil {
		return 0, errnoFor(err)
	}
	return uint32(len(data)), 0
}

func (n *ouiNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	if n.options.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := n.childPath(name)
	if err := n.repo().CreateFile(ctx, childPath); err != nil {
		return nil, nil, 0, errnoFor(err)
	}

	child := n.NewInode(ctx, &ouiNode{options: n.options, path: childPath},
		gofuse.StableAttr{Mode: syscall.S_IFREG})
	out.Mode = syscall.S_IFREG | permFor(objectlayer.KindFile, false)
	return child, nil, 0, 0
}

func (n *ouiNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if n.options.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := n.childPath(name)
	if err := n.repo().CreateDirectory(ctx, childPath); err != nil {
		return nil, errnoFor(err)
	}

	child := n.NewInode(ctx, &ouiNode{options: n.options, path: childPath},
		gofuse.StableAttr{Mode: syscall.S_IFDIR})
	out.Mode = syscall.S_IFDIR | permFor(objectlayer.KindDirectory, false)
	return child, 0
}

func (n *ouiNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.options.ReadOnly {
		return syscall.EROFS
	}
	if err := n.repo().Remove(ctx, n.childPath(name), false); err != nil {
		return errnoFor(err)
	}
	return 0
}

func (n *ouiNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.options.ReadOnly {
		return syscall.EROFS
	}
	if err := n.repo().Remove(ctx, n.childPath(name), false); err != nil {
		return errnoFor(err)
	}
	return 0
}

func (n *ouiNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.options.ReadOnly {
		return syscall.EROFS
	}

	destParent, ok := newParent.(*ouiNode)
	if !ok {
		return syscall.EINVAL
	}

	src := n.childPath(name)
	dst := destParent.childPath(newName)
	if err := n.repo().MoveEntry(ctx, src, dst); err != nil {
		return errnoFor(err)
	}
	return 0
}

func (n *ouiNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if n.options.ReadOnly {
			return syscall.EROFS
		}
		if err := n.repo().Truncate(ctx, n.path, int64(size)); err != nil {
			return errnoFor(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

// errnoFor maps an ouierr.Kind to the nearest POSIX errno a FUSE
// caller expects. Kinds with no natural POSIX analogue (AmbiguousEntry,
// malformed/store failures) surface as EIO: the caller's recourse is
// the repository's own richer error, not a FUSE return code.
func errnoFor(err error) syscall.Errno {
	switch {
	case ouierr.Is(err, ouierr.EntryNotFound):
		return syscall.ENOENT
	case ouierr.Is(err, ouierr.EntryExists):
		return syscall.EEXIST
	case ouierr.Is(err, ouierr.DirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case ouierr.Is(err, ouierr.PermissionDenied):
		return syscall.EACCES
	case ouierr.Is(err, ouierr.InvalidArgument):
		return syscall.EINVAL
	case ouierr.Is(err, ouierr.OperationNotSupported):
		return syscall.ENOTSUP
	case ouierr.Is(err, ouierr.Cancelled):
		return syscall.EINTR
	default:
		return syscall.EIO
	}
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
