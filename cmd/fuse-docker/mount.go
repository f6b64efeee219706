package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lucido-simon/fuse-docker/internal/config"
	"github.com/lucido-simon/fuse-docker/internal/metrics"
	"github.com/lucido-simon/fuse-docker/pkg/dockerfs"
	"github.com/lucido-simon/fuse-docker/pkg/fuse"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
)

var mountCmd = &cobra.Command{
	Use:   "mount [mountpoint]",
	Short: "Mount the filesystem and serve until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMount,
}

func runMount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if len(args) == 1 {
		cfg.MountPoint = args[0]
	}

	docker, c, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer docker.Close()

	logger.Info("Mounting Docker filesystem",
		logger.String("mountpoint", cfg.MountPoint),
		logger.String("docker", docker.DaemonHost()),
		logger.Duration("ttl", cfg.CacheTTL),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsys := dockerfs.New(docker, c, dockerfs.Config{})
	server, err := fuse.Mount(ctx, fsys, fuse.Options{
		MountPoint:   cfg.MountPoint,
		AllowOther:   cfg.AllowOther,
		Debug:        cfg.FuseDebug,
		EntryTimeout: cfg.EntryTimeout,
		AttrTimeout:  cfg.AttrTimeout,
		Bridge: fuse.BridgeConfig{
			MaxInFlight: cfg.MaxInFlight,
			CallTimeout: cfg.CallTimeout,
		},
	})
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			logger.Error("Docker daemon unreachable, not mounting", logger.Err(err))
		}
		return err
	}
	logger.Info("Press Ctrl+C to unmount and exit")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	var unmounted atomic.Bool
	g.Go(func() error {
		server.Wait()
		unmounted.Store(true)
		cancel()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		if unmounted.Load() {
			logger.Info("Filesystem was unmounted externally")
			return nil
		}
		logger.Info("Unmounting", logger.String("mountpoint", cfg.MountPoint))
		if err := server.Unmount(); err != nil {
			logger.Warn("Unmount failed, detaching lazily", logger.Err(err))
			return fuse.Unmount(cfg.MountPoint)
		}
		return nil
	})

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Done",
		logger.Int("containers", c.Stats().Containers),
		logger.Time("last_contact", docker.LastPing()),
	)
	return nil
}

func serveMetrics(ctx context.Context, cfg *config.Config) error {
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("Metrics server listening", logger.String("addr", cfg.MetricsAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server error", logger.Err(err))
		return err
	}
	return nil
}
