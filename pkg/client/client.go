// Package client wraps the Docker Engine API client with the two calls
// the filesystem needs, retry on startup, and online tracking.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/lucido-simon/fuse-docker/internal/metrics"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
	"github.com/lucido-simon/fuse-docker/pkg/models"
	"github.com/lucido-simon/fuse-docker/pkg/retry"
)

// ErrDaemonUnreachable is returned when the Docker daemon cannot be
// reached after all ping attempts.
var ErrDaemonUnreachable = errors.New("docker daemon unreachable")

// dockerAPI is the subset of *dockerclient.Client used here.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	Ping(ctx context.Context) (types.Ping, error)
	DaemonHost() string
	Close() error
}

// Client talks to one Docker daemon.
type Client struct {
	docker      dockerAPI
	retryConfig retry.Config

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	// Host overrides DOCKER_HOST, e.g. unix:///var/run/docker.sock.
	Host        string
	RetryConfig retry.Config
}

var newDockerAPI = func(opts ...dockerclient.Opt) (dockerAPI, error) {
	return dockerclient.NewClientWithOpts(opts...)
}

// New creates a client from the environment (DOCKER_HOST and friends),
// negotiating the API version with the daemon.
func New(cfg Config) (*Client, error) {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, dockerclient.WithHost(cfg.Host))
	}

	api, err := newDockerAPI(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newClient(api, cfg), nil
}

func newClient(api dockerAPI, cfg Config) *Client {
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	return &Client{
		docker:      api,
		retryConfig: cfg.RetryConfig,
		online:      true,
	}
}

// DaemonHost returns the endpoint the client talks to.
func (c *Client) DaemonHost() string {
	return c.docker.DaemonHost()
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.docker.Close()
}

// IsOnline returns true if the last daemon call succeeded.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// LastPing returns when the daemon was last contacted.
func (c *Client) LastPing() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPing
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			log().Info("Docker daemon is back online", logger.String("host", c.docker.DaemonHost()))
		} else {
			log().Error("Docker daemon is offline", logger.String("host", c.docker.DaemonHost()))
		}
	}
	c.online = online
	c.lastPing = time.Now()
	metrics.SetDaemonOnline(online)
}

func log() *zap.Logger {
	return logger.Named("docker")
}

// Ping checks that the daemon is reachable. Connection failures are
// retried with backoff; the final failure wraps ErrDaemonUnreachable.
func (c *Client) Ping(ctx context.Context) error {
	err := retry.Do(ctx, c.retryConfig, func() error {
		_, err := c.docker.Ping(ctx)
		if err != nil {
			c.setOnline(false)
			if dockerclient.IsErrConnectionFailed(err) {
				log().Debug("Docker ping failed, retrying", logger.Err(err))
				return retry.Retryable(err)
			}
			return err
		}
		c.setOnline(true)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w at %s: %w", ErrDaemonUnreachable, c.docker.DaemonHost(), err)
	}
	return nil
}

// ListContainers returns every container the daemon knows about,
// including stopped ones, in the daemon's order. It makes a single
// attempt; callers own the retry policy.
func (c *Client) ListContainers(ctx context.Context) ([]models.ContainerSummary, error) {
	list, err := c.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		c.setOnline(false)
		return nil, fmt.Errorf("list containers: %w", err)
	}
	c.setOnline(true)

	out := make([]models.ContainerSummary, 0, len(list))
	for _, s := range list {
		out = append(out, models.ContainerSummary{
			ID:      s.ID,
			Names:   s.Names,
			Image:   s.Image,
			State:   string(s.State),
			Status:  s.Status,
			Created: time.Unix(s.Created, 0),
		})
	}
	return out, nil
}
