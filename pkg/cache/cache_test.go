package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucido-simon/fuse-docker/pkg/inode"
	"github.com/lucido-simon/fuse-docker/pkg/logger"
	"github.com/lucido-simon/fuse-docker/pkg/models"
	"github.com/lucido-simon/fuse-docker/pkg/retry"
)

var testEpoch = time.Unix(1735689600, 0)

// fakeLister counts outbound list calls and returns whatever listFunc
// produces.
type fakeLister struct {
	calls    atomic.Int64
	listFunc func(ctx context.Context) ([]models.ContainerSummary, error)
}

func (f *fakeLister) ListContainers(ctx context.Context) ([]models.ContainerSummary, error) {
	f.calls.Add(1)
	return f.listFunc(ctx)
}

func staticLister(list ...models.ContainerSummary) *fakeLister {
	return &fakeLister{listFunc: func(context.Context) ([]models.ContainerSummary, error) {
		return list, nil
	}}
}

func webAndDB() []models.ContainerSummary {
	return []models.ContainerSummary{
		{ID: "abc123ef", Names: []string{"/web"}, Created: testEpoch},
		{ID: "abc123gh", Names: []string{"/db"}, Created: testEpoch.Add(time.Minute)},
	}
}

func newTestCache(l Lister, clock clockwork.Clock) *Cache {
	return New(l, Config{TTL: DefaultTTL, Clock: clock})
}

func TestEnsureFresh_FirstCallRefreshes(t *testing.T) {
	lister := staticLister(webAndDB()...)
	c := newTestCache(lister, clockwork.NewFakeClockAt(testEpoch))

	require.NoError(t, c.EnsureFresh(context.Background()))
	assert.Equal(t, int64(1), lister.calls.Load())
	assert.Len(t, c.List(), 2)
}

func TestEnsureFresh_TTL(t *testing.T) {
	lister := staticLister(webAndDB()...)
	clock := clockwork.NewFakeClockAt(testEpoch)
	c := newTestCache(lister, clock)
	ctx := context.Background()

	require.NoError(t, c.EnsureFresh(ctx))
	clock.Advance(DefaultTTL - time.Millisecond)
	require.NoError(t, c.EnsureFresh(ctx))
	assert.Equal(t, int64(1), lister.calls.Load(), "second call within the TTL must not query")

	clock.Advance(time.Millisecond)
	require.NoError(t, c.EnsureFresh(ctx))
	assert.Equal(t, int64(2), lister.calls.Load(), "call at the TTL boundary must query")
}

func TestAdmit_TrimsNamesAndEncodesIDs(t *testing.T) {
	c := newTestCache(staticLister(webAndDB()...), clockwork.NewFakeClockAt(testEpoch))

	snap, err := c.Fresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())

	web := snap.Containers[0]
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, []string{"web"}, web.Names)
	assert.Equal(t, inode.Encode("abc123ef"), web.Ino)
	assert.Equal(t, testEpoch, web.Created)

	db := snap.Containers[1]
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, inode.Encode("abc123gh"), db.Ino)
	assert.Equal(t, testEpoch, snap.CapturedAt)
}

func TestAdmit_SkipsInvalidIDs(t *testing.T) {
	c := newTestCache(staticLister(
		models.ContainerSummary{ID: "", Names: []string{"/ghost"}},
		models.ContainerSummary{ID: "\x00\x00\x00\x00\x00\x00\x00\x02", Names: []string{"/reserved"}},
		models.ContainerSummary{ID: "0123456789abcdef", Names: nil},
	), clockwork.NewFakeClockAt(testEpoch))

	require.NoError(t, c.EnsureFresh(context.Background()))
	list := c.List()
	require.Len(t, list, 1)
	assert.Equal(t, "0123456789ab", list[0].Name, "unnamed containers are listed by short id")
}

func TestAdmit_LinkAliasesNeverBecomeEntryNames(t *testing.T) {
	c := newTestCache(staticLister(
		models.ContainerSummary{ID: "11111111", Names: []string{"/web/db", "/db"}},
		models.ContainerSummary{ID: "0123456789abcdef", Names: []string{"/web/cache"}},
	), clockwork.NewFakeClockAt(testEpoch))

	require.NoError(t, c.EnsureFresh(context.Background()))
	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "db", list[0].Name)
	assert.Equal(t, []string{"web/db", "db"}, list[0].Names)
	assert.Equal(t, "0123456789ab", list[1].Name)
}

func TestLookupByID_NoImplicitRefresh(t *testing.T) {
	lister := staticLister(webAndDB()...)
	c := newTestCache(lister, clockwork.NewFakeClockAt(testEpoch))

	_, ok := c.LookupByID(inode.Encode("abc123ef"))
	assert.False(t, ok)
	assert.Zero(t, lister.calls.Load())

	require.NoError(t, c.EnsureFresh(context.Background()))
	got, ok := c.LookupByID(inode.Encode("abc123ef"))
	require.True(t, ok)
	assert.Equal(t, "web", got.Name)

	_, ok = c.LookupByID(inode.Encode("zzzzzzzz"))
	assert.False(t, ok)
}

func TestFindByNamePrefix_SnapshotOrder(t *testing.T) {
	c := newTestCache(staticLister(
		models.ContainerSummary{ID: "11111111", Names: []string{"/web-2"}},
		models.ContainerSummary{ID: "22222222", Names: []string{"/db"}},
		models.ContainerSummary{ID: "33333333", Names: []string{"/web"}},
	), clockwork.NewFakeClockAt(testEpoch))
	require.NoError(t, c.EnsureFresh(context.Background()))

	got := c.FindByNamePrefix("we")
	require.Len(t, got, 2)
	assert.Equal(t, "web-2", got[0].Name)
	assert.Equal(t, "web", got[1].Name)

	assert.Empty(t, c.FindByNamePrefix("zzz"))
}

func TestEnsureFresh_FailureKeepsSnapshot(t *testing.T) {
	fail := false
	lister := &fakeLister{listFunc: func(context.Context) ([]models.ContainerSummary, error) {
		if fail {
			return nil, errors.New("connection refused")
		}
		return webAndDB(), nil
	}}
	clock := clockwork.NewFakeClockAt(testEpoch)
	c := New(lister, Config{Clock: clock, NoBackoff: true})
	ctx := context.Background()

	require.NoError(t, c.EnsureFresh(ctx))
	fail = true
	clock.Advance(DefaultTTL)

	snap, err := c.Fresh(ctx)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 2, snap.Len(), "stale snapshot is still served")

	// Without backoff the next access retries immediately.
	_, err = c.Fresh(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(3), lister.calls.Load())

	fail = false
	require.NoError(t, c.EnsureFresh(ctx))
	assert.Equal(t, int64(4), lister.calls.Load())

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Refreshes)
	assert.Equal(t, int64(2), stats.Failures)
	assert.NoError(t, stats.LastError)
}

func TestEnsureFresh_BackoffAfterFailure(t *testing.T) {
	cause := errors.New("daemon down")
	lister := &fakeLister{listFunc: func(context.Context) ([]models.ContainerSummary, error) {
		return nil, cause
	}}
	clock := clockwork.NewFakeClockAt(testEpoch)
	c := New(lister, Config{
		Clock:   clock,
		Backoff: retry.Config{InitialWait: time.Second, MaxWait: 4 * time.Second, Multiplier: 2},
	})
	ctx := context.Background()

	err := c.EnsureFresh(ctx)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBackoff)
	assert.Equal(t, int64(1), lister.calls.Load())

	// Inside the first backoff window: no outbound query.
	clock.Advance(500 * time.Millisecond)
	err = c.EnsureFresh(ctx)
	assert.ErrorIs(t, err, ErrBackoff)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int64(1), lister.calls.Load())

	clock.Advance(500 * time.Millisecond)
	assert.Error(t, c.EnsureFresh(ctx))
	assert.Equal(t, int64(2), lister.calls.Load())

	// Second failure doubles the wait.
	clock.Advance(time.Second)
	assert.ErrorIs(t, c.EnsureFresh(ctx), ErrBackoff)
	assert.Equal(t, int64(2), lister.calls.Load())

	clock.Advance(time.Second)
	assert.Error(t, c.EnsureFresh(ctx))
	assert.Equal(t, int64(3), lister.calls.Load())
	assert.Equal(t, int64(2), c.Stats().Suppressed)
}

func TestEnsureFresh_SingleFlight(t *testing.T) {
	const callers = 16

	release := make(chan struct{})
	entered := make(chan struct{}, callers)
	lister := &fakeLister{listFunc: func(context.Context) ([]models.ContainerSummary, error) {
		entered <- struct{}{}
		<-release
		return webAndDB(), nil
	}}
	c := newTestCache(lister, clockwork.NewFakeClockAt(testEpoch))

	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fresh(context.Background())
		}(i)
	}

	<-entered
	// Give the remaining callers time to queue on the lock.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), lister.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 2, results[i].Len(), "caller %d", i)
	}
}

// Two identities sharing their first eight bytes alias to one inode.
// Both stay listed and inode lookups resolve to the first; this pins the
// current behavior of the prefix codec.
func TestAdmit_InodeCollision(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.L()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(prev) })

	first := "abc123ef00000000000000000000000000000000000000000000000000000001"
	second := "abc123ef00000000000000000000000000000000000000000000000000000002"
	c := newTestCache(staticLister(
		models.ContainerSummary{ID: first, Names: []string{"/first"}},
		models.ContainerSummary{ID: second, Names: []string{"/second"}},
	), clockwork.NewFakeClockAt(testEpoch))
	require.NoError(t, c.EnsureFresh(context.Background()))

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, list[0].Ino, list[1].Ino)

	got, ok := c.LookupByID(list[1].Ino)
	require.True(t, ok)
	assert.Equal(t, first, got.ID, "the second container is unreachable by inode")

	warnings := logs.FilterMessage("Inode collision between containers").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "cache", warnings[0].LoggerName)
	assert.Equal(t, second, warnings[0].ContextMap()["id"])
}
