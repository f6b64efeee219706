package fuse

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/lucido-simon/fuse-docker/internal/metrics"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
)

// DefaultMaxInFlight bounds concurrent strategy calls when
// BridgeConfig.MaxInFlight is zero.
const DefaultMaxInFlight = 64

// BridgeConfig holds bridge configuration.
type BridgeConfig struct {
	// MaxInFlight is the number of strategy calls allowed to run at
	// once. Further callers block until a slot frees up.
	MaxInFlight int64

	// CallTimeout bounds each call, including the wait for a slot.
	// Zero means no timeout: a hung daemon call blocks its kernel
	// request until the daemon answers.
	CallTimeout time.Duration
}

// Bridge runs strategy operations on behalf of kernel requests. go-fuse
// serves each request on its own goroutine, so the operation runs on
// the caller's goroutine and blocks it until done.
type Bridge struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	return &Bridge{
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		timeout: cfg.CallTimeout,
	}
}

// Call runs fn under a concurrency slot and returns its errno. A panic
// in fn is logged and reported as EIO.
func (b *Bridge) Call(op string, fn func(ctx context.Context) syscall.Errno) (errno syscall.Errno) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := b.sem.Acquire(ctx, 1); err != nil {
		logger.Warn("FUSE call timed out waiting for a slot",
			logger.String("op", op), logger.Err(err))
		metrics.RecordCallback(op, errnoLabel(syscall.ETIMEDOUT), time.Since(start))
		return syscall.ETIMEDOUT
	}
	metrics.CallbackStarted()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("FUSE callback panicked",
				logger.String("op", op),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
			errno = syscall.EIO
		}
		b.sem.Release(1)
		metrics.CallbackDone()
		metrics.RecordCallback(op, errnoLabel(errno), time.Since(start))
	}()

	return fn(ctx)
}

func errnoLabel(errno syscall.Errno) string {
	if errno == 0 {
		return "ok"
	}
	if name := unix.ErrnoName(errno); name != "" {
		return name
	}
	return fmt.Sprintf("errno_%d", int(errno))
}
