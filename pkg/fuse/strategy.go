// Package fuse serves a Strategy over the kernel FUSE protocol.
//
// The Handler translates raw FUSE requests into Strategy calls and knows
// nothing about what the filesystem projects. Every call runs through a
// Bridge, which bounds concurrency and turns panics into EIO.
package fuse

import (
	"context"
	"syscall"
	"time"
)

// Attr describes a node independently of the FUSE wire format.
type Attr struct {
	Ino   uint64
	Mode  uint32
	Nlink uint32
	Size  uint64
	Uid   uint32
	Gid   uint32

	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// IsDir reports whether the attributes describe a directory.
func (a Attr) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// DirEntry is one name in a directory listing.
type DirEntry struct {
	Name string
	Attr Attr
}

// Strategy is the set of operations a projected filesystem implements.
// Inodes are opaque to the transport apart from the root, which is
// always 1.
type Strategy interface {
	// Init runs once before the filesystem is mounted. An error aborts
	// the mount.
	Init(ctx context.Context) error

	// Lookup resolves name inside the directory parent.
	Lookup(ctx context.Context, parent uint64, name string) (Attr, syscall.Errno)

	// Getattr describes ino.
	Getattr(ctx context.Context, ino uint64) (Attr, syscall.Errno)

	// Open returns a file handle for ino.
	Open(ctx context.Context, ino uint64, flags uint32) (uint64, syscall.Errno)

	// Readdir lists ino, skipping the first offset entries.
	Readdir(ctx context.Context, ino uint64, offset uint64) ([]DirEntry, syscall.Errno)
}

// FsStats is the answer to statfs(2).
type FsStats struct {
	Blocks  uint64
	Files   uint64
	Bsize   uint32
	NameLen uint32
}

// DefaultFsStats is reported for strategies that do not implement
// StatFser.
var DefaultFsStats = FsStats{
	Bsize:   4096,
	NameLen: 255,
}

// StatFser is implemented by strategies that report filesystem
// statistics.
type StatFser interface {
	StatFs(ctx context.Context) (FsStats, syscall.Errno)
}
