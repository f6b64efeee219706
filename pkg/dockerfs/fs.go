// Package dockerfs projects Docker daemon state as a directory tree.
//
// The tree has five fixed directories: the root and one per object
// kind. Only containers are populated; each running or stopped
// container appears as an empty directory named after it.
package dockerfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lucido-simon/fuse-docker/pkg/cache"
	"github.com/lucido-simon/fuse-docker/pkg/fuse"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
	"github.com/lucido-simon/fuse-docker/pkg/models"
)

const (
	dirMode = syscall.S_IFDIR | 0755
	nameMax = 255
)

// Pinger checks that the daemon is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds filesystem configuration.
type Config struct {
	// Uid and Gid own every node. They default to the current process.
	Uid *uint32
	Gid *uint32

	Clock clockwork.Clock
}

// FS implements fuse.Strategy over a container cache.
type FS struct {
	daemon Pinger
	cache  *cache.Cache
	clock  clockwork.Clock
	uid    uint32
	gid    uint32

	mountedAt time.Time
}

var (
	_ fuse.Strategy = (*FS)(nil)
	_ fuse.StatFser = (*FS)(nil)
)

// New creates the filesystem. The cache is shared with the caller.
func New(daemon Pinger, c *cache.Cache, cfg Config) *FS {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	uid := uint32(os.Getuid())
	if cfg.Uid != nil {
		uid = *cfg.Uid
	}
	gid := uint32(os.Getgid())
	if cfg.Gid != nil {
		gid = *cfg.Gid
	}

	return &FS{
		daemon:    daemon,
		cache:     c,
		clock:     cfg.Clock,
		uid:       uid,
		gid:       gid,
		mountedAt: cfg.Clock.Now(),
	}
}

// Init checks that the daemon answers and loads the first container
// listing. Only an unreachable daemon is an error.
func (f *FS) Init(ctx context.Context) error {
	if err := f.daemon.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	f.mountedAt = f.clock.Now()

	if err := f.cache.EnsureFresh(ctx); err != nil {
		logger.Warn("Initial container listing failed", logger.Err(err))
	}
	return nil
}

// Lookup resolves name inside parent. Under containers a name matches
// the first container, in daemon order, whose name starts with it.
func (f *FS) Lookup(ctx context.Context, parent uint64, name string) (fuse.Attr, syscall.Errno) {
	n, ok := f.classify(parent)
	if !ok {
		logger.Debug("Lookup in unknown inode", logger.Ino(parent), logger.String("name", name))
		return fuse.Attr{}, syscall.ENOENT
	}

	switch n := n.(type) {
	case categoryNode:
		switch n.category {
		case Root:
			c, ok := ParseCategory(name)
			if !ok {
				return fuse.Attr{}, syscall.ENOENT
			}
			return f.categoryAttr(c, f.cache.Snapshot()), 0

		case Containers:
			snap := f.fresh(ctx)
			c, ok := matchContainer(snap, name)
			if !ok {
				return fuse.Attr{}, syscall.ENOENT
			}
			return f.containerAttr(c), 0
		}
		// Images, volumes and networks have no entries yet.
		return fuse.Attr{}, syscall.ENOENT

	case containerNode:
		return fuse.Attr{}, syscall.ENOENT
	}
	return fuse.Attr{}, syscall.ENOENT
}

// Getattr describes ino. It never refreshes the cache.
func (f *FS) Getattr(ctx context.Context, ino uint64) (fuse.Attr, syscall.Errno) {
	n, ok := f.classify(ino)
	if !ok {
		logger.Debug("Getattr on unknown inode", logger.Ino(ino))
		return fuse.Attr{}, syscall.ENOENT
	}

	switch n := n.(type) {
	case categoryNode:
		return f.categoryAttr(n.category, f.cache.Snapshot()), 0
	case containerNode:
		return f.containerAttr(n.container), 0
	}
	return fuse.Attr{}, syscall.ENOENT
}

// Open always succeeds. Nothing in the tree has content.
func (f *FS) Open(ctx context.Context, ino uint64, flags uint32) (uint64, syscall.Errno) {
	return 0, 0
}

// Readdir lists ino as ".", "..", then its children, skipping the first
// offset entries. Offsets are only stable until the next refresh.
func (f *FS) Readdir(ctx context.Context, ino uint64, offset uint64) ([]fuse.DirEntry, syscall.Errno) {
	n, ok := f.classify(ino)
	if !ok {
		logger.Debug("Readdir on unknown inode", logger.Ino(ino))
		return nil, syscall.ENOENT
	}

	logger.Debug("Listing directory", logger.Ino(n.ino()), logger.Uint64("offset", offset))

	var entries []fuse.DirEntry
	switch n := n.(type) {
	case categoryNode:
		entries = f.listCategory(ctx, n.category)
	case containerNode:
		entries = []fuse.DirEntry{
			{Name: ".", Attr: f.containerAttr(n.container)},
			{Name: "..", Attr: f.categoryAttr(Containers, f.cache.Snapshot())},
		}
	}

	if offset >= uint64(len(entries)) {
		return nil, 0
	}
	return entries[offset:], 0
}

// StatFs reports one file per node in the tree.
func (f *FS) StatFs(ctx context.Context) (fuse.FsStats, syscall.Errno) {
	return fuse.FsStats{
		Files:   uint64(len(categoryNames) + f.cache.Snapshot().Len()),
		Bsize:   4096,
		NameLen: nameMax,
	}, 0
}

// Container returns the cached container with inode ino. It never
// refreshes.
func (f *FS) Container(ino uint64) (models.Container, bool) {
	return f.cache.LookupByID(ino)
}

func (f *FS) listCategory(ctx context.Context, c Category) []fuse.DirEntry {
	switch c {
	case Root:
		snap := f.cache.Snapshot()
		self := f.categoryAttr(Root, snap)
		entries := []fuse.DirEntry{
			{Name: ".", Attr: self},
			{Name: "..", Attr: self},
		}
		for _, child := range Children() {
			entries = append(entries, fuse.DirEntry{Name: child.String(), Attr: f.categoryAttr(child, snap)})
		}
		return entries

	case Containers:
		snap := f.fresh(ctx)
		entries := make([]fuse.DirEntry, 0, 2+snap.Len())
		entries = append(entries,
			fuse.DirEntry{Name: ".", Attr: f.categoryAttr(Containers, snap)},
			fuse.DirEntry{Name: "..", Attr: f.categoryAttr(Root, snap)},
		)
		for _, ctr := range snap.Containers {
			entries = append(entries, fuse.DirEntry{Name: ctr.Name, Attr: f.containerAttr(ctr)})
		}
		return entries
	}

	snap := f.cache.Snapshot()
	return []fuse.DirEntry{
		{Name: ".", Attr: f.categoryAttr(c, snap)},
		{Name: "..", Attr: f.categoryAttr(Root, snap)},
	}
}

// classify resolves ino to a node. Category inodes win over container
// inodes.
func (f *FS) classify(ino uint64) (node, bool) {
	if c, ok := CategoryOf(ino); ok {
		return categoryNode{category: c}, true
	}
	if ctr, ok := f.cache.LookupByID(ino); ok {
		return containerNode{container: ctr}, true
	}
	return nil, false
}

// fresh returns the cache snapshot, refreshing it if stale. Refresh
// failures are logged and the previous snapshot is served.
func (f *FS) fresh(ctx context.Context) cache.Snapshot {
	snap, err := f.cache.Fresh(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrBackoff) {
			logger.Debug("Serving stale containers", logger.Err(err))
		} else {
			logger.Warn("Container refresh failed, serving stale data", logger.Err(err))
		}
	}
	return snap
}

func (f *FS) categoryAttr(c Category, snap cache.Snapshot) fuse.Attr {
	nlink := uint32(2)
	switch c {
	case Root:
		nlink += uint32(len(Children()))
	case Containers:
		nlink += uint32(snap.Len())
	}
	return f.dirAttr(c.Ino(), nlink, f.mountedAt)
}

func (f *FS) containerAttr(c models.Container) fuse.Attr {
	return f.dirAttr(c.Ino, 2, c.Created)
}

func (f *FS) dirAttr(ino uint64, nlink uint32, t time.Time) fuse.Attr {
	return fuse.Attr{
		Ino:   ino,
		Mode:  dirMode,
		Nlink: nlink,
		Uid:   f.uid,
		Gid:   f.gid,
		Atime: t,
		Mtime: t,
		Ctime: t,
	}
}

// matchContainer returns the first container whose name has name as a
// prefix. An earlier "web-2" therefore shadows a later "web".
func matchContainer(snap cache.Snapshot, name string) (models.Container, bool) {
	if matches := snap.FindByNamePrefix(name); len(matches) > 0 {
		return matches[0], true
	}
	return models.Container{}, false
}
