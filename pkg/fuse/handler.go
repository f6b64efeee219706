package fuse

import (
	"context"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
)

// DefaultTimeout is the kernel cache lifetime for entries and
// attributes when HandlerConfig leaves them zero.
const DefaultTimeout = time.Second

// HandlerConfig holds handler configuration.
type HandlerConfig struct {
	Name         string
	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// Handler adapts a Strategy to go-fuse's raw filesystem API. Operations
// it does not implement answer ENOSYS.
type Handler struct {
	gofuse.RawFileSystem

	strategy     Strategy
	bridge       *Bridge
	name         string
	entryTimeout time.Duration
	attrTimeout  time.Duration
}

var _ gofuse.RawFileSystem = (*Handler)(nil)

// NewHandler creates a handler that dispatches to s through b.
func NewHandler(s Strategy, b *Bridge, cfg HandlerConfig) *Handler {
	if cfg.EntryTimeout == 0 {
		cfg.EntryTimeout = DefaultTimeout
	}
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = DefaultTimeout
	}
	if cfg.Name == "" {
		cfg.Name = "fuse-docker"
	}

	return &Handler{
		RawFileSystem: gofuse.NewDefaultRawFileSystem(),
		strategy:      s,
		bridge:        b,
		name:          cfg.Name,
		entryTimeout:  cfg.EntryTimeout,
		attrTimeout:   cfg.AttrTimeout,
	}
}

func (h *Handler) String() string {
	return h.name
}

// Lookup resolves a name inside a directory.
func (h *Handler) Lookup(cancel <-chan struct{}, header *gofuse.InHeader, name string, out *gofuse.EntryOut) gofuse.Status {
	var attr Attr
	errno := h.bridge.Call("lookup", func(ctx context.Context) syscall.Errno {
		var e syscall.Errno
		attr, e = h.strategy.Lookup(ctx, header.NodeId, name)
		return e
	})
	if errno != 0 {
		return gofuse.Status(errno)
	}

	h.fillEntry(out, attr)
	return gofuse.OK
}

// GetAttr returns node attributes.
func (h *Handler) GetAttr(cancel <-chan struct{}, input *gofuse.GetAttrIn, out *gofuse.AttrOut) gofuse.Status {
	var attr Attr
	errno := h.bridge.Call("getattr", func(ctx context.Context) syscall.Errno {
		var e syscall.Errno
		attr, e = h.strategy.Getattr(ctx, input.NodeId)
		return e
	})
	if errno != 0 {
		return gofuse.Status(errno)
	}

	fillAttr(&out.Attr, attr)
	out.SetTimeout(h.attrTimeout)
	return gofuse.OK
}

// Open opens a file.
func (h *Handler) Open(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	return h.open("open", input, out)
}

// OpenDir opens a directory.
func (h *Handler) OpenDir(cancel <-chan struct{}, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	return h.open("opendir", input, out)
}

func (h *Handler) open(op string, input *gofuse.OpenIn, out *gofuse.OpenOut) gofuse.Status {
	var fh uint64
	errno := h.bridge.Call(op, func(ctx context.Context) syscall.Errno {
		var e syscall.Errno
		fh, e = h.strategy.Open(ctx, input.NodeId, input.Flags)
		return e
	})
	if errno != 0 {
		return gofuse.Status(errno)
	}

	out.Fh = fh
	return gofuse.OK
}

// ReadDir lists a directory from input.Offset until the reply buffer
// is full.
func (h *Handler) ReadDir(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	entries, errno := h.readdir("readdir", input)
	if errno != 0 {
		return gofuse.Status(errno)
	}

	for _, e := range entries {
		if !out.AddDirEntry(gofuse.DirEntry{Name: e.Name, Ino: e.Attr.Ino, Mode: e.Attr.Mode}) {
			break
		}
	}
	return gofuse.OK
}

// ReadDirPlus lists a directory along with the attributes of each
// entry, saving the kernel a lookup per name.
func (h *Handler) ReadDirPlus(cancel <-chan struct{}, input *gofuse.ReadIn, out *gofuse.DirEntryList) gofuse.Status {
	entries, errno := h.readdir("readdirplus", input)
	if errno != 0 {
		return gofuse.Status(errno)
	}

	for _, e := range entries {
		entry := out.AddDirLookupEntry(gofuse.DirEntry{Name: e.Name, Ino: e.Attr.Ino, Mode: e.Attr.Mode})
		if entry == nil {
			break
		}
		// The kernel ignores the entry for dot names; a zero NodeId
		// keeps it from taking a lookup reference.
		if e.Name == "." || e.Name == ".." {
			continue
		}
		h.fillEntry(entry, e.Attr)
	}
	return gofuse.OK
}

func (h *Handler) readdir(op string, input *gofuse.ReadIn) ([]DirEntry, syscall.Errno) {
	var entries []DirEntry
	errno := h.bridge.Call(op, func(ctx context.Context) syscall.Errno {
		var e syscall.Errno
		entries, e = h.strategy.Readdir(ctx, input.NodeId, input.Offset)
		return e
	})
	return entries, errno
}

// StatFs reports filesystem statistics.
func (h *Handler) StatFs(cancel <-chan struct{}, header *gofuse.InHeader, out *gofuse.StatfsOut) gofuse.Status {
	stats := DefaultFsStats
	if sf, ok := h.strategy.(StatFser); ok {
		errno := h.bridge.Call("statfs", func(ctx context.Context) syscall.Errno {
			var e syscall.Errno
			stats, e = sf.StatFs(ctx)
			return e
		})
		if errno != 0 {
			return gofuse.Status(errno)
		}
	}

	out.Blocks = stats.Blocks
	out.Files = stats.Files
	out.Bsize = stats.Bsize
	out.Frsize = stats.Bsize
	out.NameLen = stats.NameLen
	return gofuse.OK
}

func (h *Handler) fillEntry(out *gofuse.EntryOut, attr Attr) {
	out.NodeId = attr.Ino
	out.Generation = 0
	fillAttr(&out.Attr, attr)
	out.SetEntryTimeout(h.entryTimeout)
	out.SetAttrTimeout(h.attrTimeout)
}

func fillAttr(out *gofuse.Attr, attr Attr) {
	out.Ino = attr.Ino
	out.Mode = attr.Mode
	out.Nlink = attr.Nlink
	out.Size = attr.Size
	out.Uid = attr.Uid
	out.Gid = attr.Gid
	out.SetTimes(timeOrNil(attr.Atime), timeOrNil(attr.Mtime), timeOrNil(attr.Ctime))
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
