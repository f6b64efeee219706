package fuse

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/lucido-simon/fuse-docker/pkg/logger"
)

// Options configures Mount.
type Options struct {
	MountPoint string

	// FsName is the source shown in /proc/mounts; Name is the
	// filesystem type suffix (fuse.<Name>).
	FsName string
	Name   string

	AllowOther bool
	Debug      bool

	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	Bridge BridgeConfig
}

// Mount initializes s and serves it at opts.MountPoint. It returns once
// the kernel has completed the mount. Callers stop serving with
// server.Unmount.
//
// If s.Init fails nothing is mounted and the returned error wraps
// syscall.EACCES.
func Mount(ctx context.Context, s Strategy, opts Options) (*gofuse.Server, error) {
	if opts.FsName == "" {
		opts.FsName = "fuse-docker"
	}
	if opts.Name == "" {
		opts.Name = "docker"
	}

	if err := os.MkdirAll(opts.MountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	if err := s.Init(ctx); err != nil {
		return nil, fmt.Errorf("init filesystem: %w: %w", syscall.EACCES, err)
	}

	handler := NewHandler(s, NewBridge(opts.Bridge), HandlerConfig{
		Name:         opts.FsName,
		EntryTimeout: opts.EntryTimeout,
		AttrTimeout:  opts.AttrTimeout,
	})

	server, err := gofuse.NewServer(handler, opts.MountPoint, &gofuse.MountOptions{
		AllowOther:    opts.AllowOther,
		Debug:         opts.Debug,
		FsName:        opts.FsName,
		Name:          opts.Name,
		DisableXAttrs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	go server.Serve()
	if err := server.WaitMount(); err != nil {
		if uerr := server.Unmount(); uerr != nil {
			logger.Warn("Unmount after failed mount", logger.Err(uerr))
		}
		return nil, fmt.Errorf("wait for mount: %w", err)
	}

	logger.Info("Filesystem mounted", logger.String("mountpoint", opts.MountPoint))
	return server, nil
}

// Unmount lazily detaches the filesystem at mountPoint. It works on
// mounts left behind by a process that exited without unmounting, but
// requires CAP_SYS_ADMIN.
func Unmount(mountPoint string) error {
	if err := unix.Unmount(mountPoint, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", mountPoint, err)
	}
	return nil
}
