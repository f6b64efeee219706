// Package cache holds the last known container listing of the Docker
// daemon and refreshes it at most once per TTL.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/lucido-simon/fuse-docker/internal/metrics"
	"github.com/lucido-simon/fuse-docker/pkg/inode"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
	"github.com/lucido-simon/fuse-docker/pkg/models"
	"github.com/lucido-simon/fuse-docker/pkg/retry"
)

// DefaultTTL is the maximum age of a snapshot before the next access
// refreshes it.
const DefaultTTL = 5 * time.Second

// ErrBackoff is returned, wrapping the last refresh error, while the
// cache waits out the backoff after failed refreshes.
var ErrBackoff = errors.New("container refresh backing off")

// Lister lists every container known to the daemon.
type Lister interface {
	ListContainers(ctx context.Context) ([]models.ContainerSummary, error)
}

// DefaultBackoff is the refresh backoff used when Config.Backoff is
// left zero.
func DefaultBackoff() retry.Config {
	return retry.Config{
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2,
	}
}

// Config holds cache configuration.
type Config struct {
	// TTL is the maximum snapshot age. Zero selects DefaultTTL.
	TTL time.Duration

	// Backoff spaces out refresh attempts after consecutive failures.
	// Only InitialWait, MaxWait, Multiplier and Jitter are used. Set
	// NoBackoff to retry on every access instead.
	Backoff   retry.Config
	NoBackoff bool

	Clock clockwork.Clock
}

// Stats describes the cache state for diagnostics.
type Stats struct {
	Refreshes   int64
	Failures    int64
	Suppressed  int64
	Containers  int
	LastRefresh time.Time
	LastError   error
}

// Cache is the single shared view of the daemon's containers. All
// access goes through one mutex, held across the TTL check, the
// refresh and the read, so at most one refresh is ever in flight and
// callers queued behind it see its result.
type Cache struct {
	lister  Lister
	ttl     time.Duration
	backoff retry.Config
	clock   clockwork.Clock

	mu          sync.Mutex
	snapshot    Snapshot
	refreshed   bool
	lastRefresh time.Time
	failures    int
	lastFailure time.Time
	lastErr     error
	stats       Stats
}

// New creates an empty cache. The first access always refreshes.
func New(lister Lister, cfg Config) *Cache {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	backoff := cfg.Backoff
	if backoff.InitialWait == 0 {
		backoff = DefaultBackoff()
	}
	if cfg.NoBackoff {
		backoff = retry.Config{}
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		lister:  lister,
		ttl:     ttl,
		backoff: backoff,
		clock:   cfg.Clock,
	}
}

// EnsureFresh refreshes the snapshot if it is older than the TTL. On
// failure the previous snapshot is kept and the error returned; the
// refresh timestamp is left untouched so a later call retries once the
// backoff allows.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureFreshLocked(ctx)
}

// Fresh refreshes the snapshot if needed and returns it. The snapshot
// is returned even when the refresh fails.
func (c *Cache) Fresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.ensureFreshLocked(ctx)
	return c.snapshot, err
}

// Snapshot returns the current snapshot without refreshing.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// LookupByID returns the container with the given inode from the
// current snapshot. It never refreshes.
func (c *Cache) LookupByID(ino uint64) (models.Container, bool) {
	return c.Snapshot().LookupByID(ino)
}

// FindByNamePrefix returns the containers whose display name starts
// with name, in snapshot order. It never refreshes.
func (c *Cache) FindByNamePrefix(name string) []models.Container {
	return c.Snapshot().FindByNamePrefix(name)
}

// List returns every cached container in daemon order.
func (c *Cache) List() []models.Container {
	return c.Snapshot().Containers
}

// Stats returns refresh counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Containers = len(c.snapshot.Containers)
	s.LastRefresh = c.lastRefresh
	s.LastError = c.lastErr
	return s
}

func (c *Cache) ensureFreshLocked(ctx context.Context) error {
	now := c.clock.Now()
	if c.refreshed && now.Sub(c.lastRefresh) < c.ttl {
		return nil
	}

	if c.failures > 0 {
		wait := retry.Backoff(c.backoff, c.failures)
		if elapsed := now.Sub(c.lastFailure); elapsed < wait {
			c.stats.Suppressed++
			metrics.RecordRefreshSuppressed()
			return fmt.Errorf("%w for %s: %w", ErrBackoff, (wait - elapsed).Round(time.Millisecond), c.lastErr)
		}
	}

	list, err := c.lister.ListContainers(ctx)
	done := c.clock.Now()
	metrics.RecordRefresh(done.Sub(now), err == nil)

	if err != nil {
		c.failures++
		c.lastFailure = done
		c.lastErr = err
		c.stats.Failures++
		return fmt.Errorf("refresh containers: %w", err)
	}

	c.snapshot = admit(list, done)
	c.refreshed = true
	c.lastRefresh = done
	c.failures = 0
	c.lastErr = nil
	c.stats.Refreshes++
	metrics.SetSnapshotSize(len(c.snapshot.Containers))

	log().Debug("Container cache refreshed",
		logger.Int("containers", len(c.snapshot.Containers)),
		logger.Duration("took", done.Sub(now)),
	)
	return nil
}

func log() *zap.Logger {
	return logger.Named("cache")
}

// admit converts daemon summaries into cached containers. Names lose
// their leading slash and every container gets its inode here, once.
func admit(list []models.ContainerSummary, at time.Time) Snapshot {
	containers := make([]models.Container, 0, len(list))
	owners := make(map[uint64]string, len(list))

	for _, s := range list {
		if s.ID == "" {
			continue
		}

		ino := inode.Encode(s.ID)
		if inode.Reserved(ino) {
			log().Warn("Skipping container whose inode falls in the reserved range",
				logger.String("id", s.ID), logger.Ino(ino))
			continue
		}

		if owner, ok := owners[ino]; ok && inode.Collides(owner, s.ID) {
			// Known limitation: both containers keep the aliased inode
			// and lookups by inode resolve to the first one.
			log().Warn("Inode collision between containers",
				logger.String("id", s.ID),
				logger.String("other", owner),
				logger.Ino(ino),
			)
			metrics.RecordInodeCollision()
		} else {
			owners[ino] = s.ID
		}

		names := models.TrimNames(s.Names)
		containers = append(containers, models.Container{
			ID:      s.ID,
			Name:    models.DisplayName(s.ID, names),
			Names:   names,
			Image:   s.Image,
			State:   s.State,
			Status:  s.Status,
			Created: s.Created,
			Ino:     ino,
		})
	}

	return Snapshot{Containers: containers, CapturedAt: at}
}

// Snapshot is an immutable view of the containers at one refresh.
// Callers must not modify the slice.
type Snapshot struct {
	Containers []models.Container
	CapturedAt time.Time
}

// Len returns the number of containers.
func (s Snapshot) Len() int {
	return len(s.Containers)
}

// LookupByID returns the first container with the given inode.
func (s Snapshot) LookupByID(ino uint64) (models.Container, bool) {
	for _, c := range s.Containers {
		if c.Ino == ino {
			return c, true
		}
	}
	return models.Container{}, false
}

// FindByNamePrefix returns the containers whose display name starts
// with name, in snapshot order.
func (s Snapshot) FindByNamePrefix(name string) []models.Container {
	var out []models.Container
	for _, c := range s.Containers {
		if strings.HasPrefix(c.Name, name) {
			out = append(out, c)
		}
	}
	return out
}
