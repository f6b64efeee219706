package fuse

import (
	"context"
	"sync"
	"syscall"
	"time"
)

var fakeTime = time.Date(2025, 1, 1, 12, 0, 0, 500, time.UTC)

// fakeStrategy serves a root directory holding a single subdirectory
// "child" with inode 10.
type fakeStrategy struct {
	initErr error

	mu        sync.Mutex
	lastFlags uint32
	offsets   []uint64
}

func dirAttr(ino uint64) Attr {
	return Attr{
		Ino:   ino,
		Mode:  syscall.S_IFDIR | 0755,
		Nlink: 2,
		Uid:   1000,
		Gid:   1000,
		Atime: fakeTime,
		Mtime: fakeTime,
		Ctime: fakeTime,
	}
}

func (f *fakeStrategy) Init(ctx context.Context) error {
	return f.initErr
}

func (f *fakeStrategy) Lookup(ctx context.Context, parent uint64, name string) (Attr, syscall.Errno) {
	if parent == 1 && name == "child" {
		return dirAttr(10), 0
	}
	return Attr{}, syscall.ENOENT
}

func (f *fakeStrategy) Getattr(ctx context.Context, ino uint64) (Attr, syscall.Errno) {
	switch ino {
	case 1, 10:
		return dirAttr(ino), 0
	}
	return Attr{}, syscall.ENOENT
}

func (f *fakeStrategy) Open(ctx context.Context, ino uint64, flags uint32) (uint64, syscall.Errno) {
	f.mu.Lock()
	f.lastFlags = flags
	f.mu.Unlock()
	return 0, 0
}

func (f *fakeStrategy) Readdir(ctx context.Context, ino uint64, offset uint64) ([]DirEntry, syscall.Errno) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()

	var all []DirEntry
	switch ino {
	case 1:
		all = []DirEntry{
			{Name: ".", Attr: dirAttr(1)},
			{Name: "..", Attr: dirAttr(1)},
			{Name: "child", Attr: dirAttr(10)},
		}
	case 10:
		all = []DirEntry{
			{Name: ".", Attr: dirAttr(10)},
			{Name: "..", Attr: dirAttr(1)},
		}
	default:
		return nil, syscall.ENOENT
	}
	if offset >= uint64(len(all)) {
		return nil, 0
	}
	return all[offset:], 0
}
