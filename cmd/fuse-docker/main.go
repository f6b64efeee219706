// fuse-docker mounts the state of a Docker daemon as a directory tree.
//
// Sub-commands:
//
//	fuse-docker mount [mountpoint]     Mount and serve until interrupted
//	fuse-docker ls                     Print the containers directory
//	fuse-docker inode encode <id>      Show the inode for a container id
//	fuse-docker inode decode <ino>     Show the id prefix held by an inode
//	fuse-docker unmount [mountpoint]   Detach a stale mount
//	fuse-docker version                Print version information
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucido-simon/fuse-docker/internal/config"
	"github.com/lucido-simon/fuse-docker/pkg/cache"
	"github.com/lucido-simon/fuse-docker/pkg/client"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
	"github.com/lucido-simon/fuse-docker/pkg/retry"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	envFile     string
	dockerHost  string
	logLevel    string
	cacheTTL    time.Duration
	allowOther  bool
	fuseDebug   bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "fuse-docker",
	Short:         "Browse Docker containers as a filesystem",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fuse-docker %s\n", Version)
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "Environment file to load before reading FUSE_DOCKER_* variables")
	pf.StringVar(&dockerHost, "docker-host", "", "Docker daemon address (default: DOCKER_HOST or the local socket)")
	pf.StringVarP(&logLevel, "log-level", "l", "", "Log level: debug, info, warn, error, quiet")
	pf.DurationVar(&cacheTTL, "ttl", 0, "Maximum age of the container listing (default 5s)")

	mountCmd.Flags().BoolVar(&allowOther, "allow-other", false, "Let other users access the mount")
	mountCmd.Flags().BoolVar(&fuseDebug, "fuse-debug", false, "Log every FUSE request")
	mountCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	inodeCmd.AddCommand(inodeEncodeCmd, inodeDecodeCmd)
	rootCmd.AddCommand(mountCmd, lsCmd, inodeCmd, unmountCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the flags the user set
// explicitly, then starts logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("docker-host") {
		cfg.DockerHost = dockerHost
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("ttl") {
		cfg.CacheTTL = cacheTTL
	}
	if flags.Changed("allow-other") {
		cfg.AllowOther = allowOther
	}
	if flags.Changed("fuse-debug") {
		cfg.FuseDebug = fuseDebug
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// newDaemon builds the Docker client and the container cache in front
// of it.
func newDaemon(cfg *config.Config) (*client.Client, *cache.Cache, error) {
	pingRetry := retry.DefaultConfig()
	pingRetry.MaxAttempts = cfg.PingAttempts

	docker, err := client.New(client.Config{
		Host:        cfg.DockerHost,
		RetryConfig: pingRetry,
	})
	if err != nil {
		return nil, nil, err
	}

	c := cache.New(docker, cache.Config{
		TTL: cfg.CacheTTL,
		Backoff: retry.Config{
			InitialWait: cfg.RefreshBackoff,
			MaxWait:     cfg.RefreshBackoffMax,
			Multiplier:  2,
			Jitter:      0.1,
		},
		NoBackoff: cfg.RefreshBackoff == 0,
	})
	return docker, c, nil
}
