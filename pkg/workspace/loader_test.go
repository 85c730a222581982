package workspace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pharmacare/permengine/pkg/billing"
	"github.com/pharmacare/permengine/pkg/cache"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakySource wraps a MemorySource, failing or blocking on demand and
// counting workspace lookups
type flakySource struct {
	*MemorySource
	err     error
	block   chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func (s *flakySource) WorkspaceForUser(ctx context.Context, userID string) (*Workspace, error) {
	s.calls.Add(1)
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.MemorySource.WorkspaceForUser(ctx, userID)
}

type loaderFixture struct {
	loader *Loader
	source *flakySource
	clock  *testClock
	logs   *test.Hook
}

func newLoaderFixture(t *testing.T, timeout time.Duration) *loaderFixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	logger, hook := test.NewNullLogger()

	mem := NewMemorySource()
	trialEnd := clock.Now().Add(14 * 24 * time.Hour)
	mem.PutWorkspace(Workspace{ID: "ws-1", Name: "Corner Pharmacy", OwnerID: "owner-1", PlanID: "plan_free_trial"})
	mem.AddMember("ws-1", "tech-1")
	mem.PutSubscription(billing.Subscription{
		ID:          "sub-1",
		WorkspaceID: "ws-1",
		PlanID:      "plan_basic",
		Status:      billing.SubscriptionStatusTrial,
		TrialEndsAt: &trialEnd,
	})

	source := &flakySource{MemorySource: mem}
	loader := NewLoader(source, cache.NewMemory[*Context](clock.Now), LoaderConfig{
		FetchTimeout: timeout,
		Clock:        clock.Now,
		Logger:       logger,
	})
	return &loaderFixture{loader: loader, source: source, clock: clock, logs: hook}
}

func TestLoader_Load(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()

	c := f.loader.Load(ctx, "tech-1")
	require.True(t, c.HasWorkspace())
	assert.Equal(t, "ws-1", c.Workspace.ID)
	assert.Equal(t, billing.TierBasic, c.Tier(), "subscription plan wins over the workspace plan")
	assert.True(t, c.InTrial())
	assert.True(t, c.IsSubscriptionActive)
	assert.Contains(t, c.Permissions, billing.FeatureInterventions)
	assert.Equal(t, f.clock.Now(), c.LoadedAt)

	none := f.loader.Load(ctx, "stranger")
	assert.False(t, none.HasWorkspace())
}

func TestLoader_PlanFallback(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()

	f.source.PutWorkspace(Workspace{ID: "ws-2", OwnerID: "owner-2", PlanID: "plan_pro"})
	c := f.loader.Load(ctx, "owner-2")
	assert.Equal(t, billing.TierPro, c.Tier())
	assert.Nil(t, c.Subscription)
	assert.False(t, c.IsSubscriptionActive)

	f.source.PutWorkspace(Workspace{ID: "ws-3", OwnerID: "owner-3"})
	f.source.PutSubscription(billing.Subscription{WorkspaceID: "ws-3", Tier: billing.TierNetwork, Status: billing.SubscriptionStatusActive})
	c = f.loader.Load(ctx, "owner-3")
	assert.Equal(t, billing.TierNetwork, c.Tier())

	// canceled subscriptions are ignored
	f.source.PutWorkspace(Workspace{ID: "ws-4", OwnerID: "owner-4", PlanID: "plan_basic"})
	f.source.PutSubscription(billing.Subscription{WorkspaceID: "ws-4", PlanID: "plan_enterprise", Status: billing.SubscriptionStatusCanceled})
	c = f.loader.Load(ctx, "owner-4")
	assert.Equal(t, billing.TierBasic, c.Tier())
	assert.Nil(t, c.Subscription)
}

func TestLoader_CachesUntilTTLOrInvalidation(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()

	first := f.loader.Load(ctx, "tech-1")
	f.source.PutSubscription(billing.Subscription{WorkspaceID: "ws-1", PlanID: "plan_pro", Status: billing.SubscriptionStatusActive})

	assert.Same(t, first, f.loader.Load(ctx, "tech-1"))
	assert.EqualValues(t, 1, f.source.calls.Load())

	f.loader.Invalidate(ctx, "tech-1")
	second := f.loader.Load(ctx, "tech-1")
	assert.Equal(t, billing.TierPro, second.Tier())
	assert.False(t, second.InTrial())

	f.source.PutSubscription(billing.Subscription{WorkspaceID: "ws-1", PlanID: "plan_pharmily", Status: billing.SubscriptionStatusActive})
	f.clock.Advance(DefaultTTL)
	assert.Equal(t, billing.TierPharmily, f.loader.Load(ctx, "tech-1").Tier())
}

func TestLoader_FailureIsEmptyAndNotCached(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()

	f.source.err = errors.New("connection refused")
	c := f.loader.Load(ctx, "tech-1")
	assert.False(t, c.HasWorkspace())
	assert.False(t, c.IsSubscriptionActive)

	entry := f.logs.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.ErrorIs(t, entry.Data[logrus.ErrorKey].(error), ErrUpstreamUnavailable)

	f.source.err = nil
	assert.True(t, f.loader.Load(ctx, "tech-1").HasWorkspace())
}

func TestLoader_FetchTimeout(t *testing.T) {
	f := newLoaderFixture(t, 20*time.Millisecond)
	f.source.block = make(chan struct{})
	defer close(f.source.block)

	start := time.Now()
	c := f.loader.Load(context.Background(), "tech-1")
	assert.False(t, c.HasWorkspace())
	assert.Less(t, time.Since(start), time.Second)

	err := f.logs.LastEntry().Data[logrus.ErrorKey].(error)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_CoalescesConcurrentLoads(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	f.source.block = make(chan struct{})
	f.source.entered = make(chan struct{}, 1)

	var wg sync.WaitGroup
	results := make([]*Context, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.loader.Load(context.Background(), "tech-1")
		}()
	}

	<-f.source.entered
	time.Sleep(50 * time.Millisecond)
	close(f.source.block)
	wg.Wait()

	assert.EqualValues(t, 1, f.source.calls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestLoader_CoalescedCallersSurviveLeaderCancel(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	f.source.block = make(chan struct{})
	f.source.entered = make(chan struct{}, 1)

	leaderCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var leader, follower *Context
	wg.Add(1)
	go func() {
		defer wg.Done()
		leader = f.loader.Load(leaderCtx, "tech-1")
	}()
	<-f.source.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		follower = f.loader.Load(context.Background(), "tech-1")
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(f.source.block)
	wg.Wait()

	assert.EqualValues(t, 1, f.source.calls.Load())
	assert.True(t, follower.HasWorkspace())
	assert.True(t, leader.HasWorkspace())
}

func TestLoader_InvalidationDuringFetchIsNotCached(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()
	f.source.block = make(chan struct{})
	f.source.entered = make(chan struct{}, 1)

	done := make(chan *Context)
	go func() { done <- f.loader.Load(ctx, "tech-1") }()
	<-f.source.entered

	// the fetch already read the old subscription state
	f.loader.Invalidate(ctx, "tech-1")
	close(f.source.block)
	assert.True(t, (<-done).HasWorkspace())

	f.source.block = nil
	f.loader.Load(ctx, "tech-1")
	assert.EqualValues(t, 2, f.source.calls.Load(), "overlapping load was not cached")
}

func TestLoader_InvalidateWorkspace(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()

	f.loader.Load(ctx, "tech-1")
	f.loader.Load(ctx, "owner-1")
	f.source.PutSubscription(billing.Subscription{WorkspaceID: "ws-1", PlanID: "plan_enterprise", Status: billing.SubscriptionStatusActive})

	ids, err := f.loader.InvalidateWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1", "tech-1"}, ids)
	assert.Equal(t, billing.TierEnterprise, f.loader.Load(ctx, "tech-1").Tier())
	assert.Equal(t, billing.TierEnterprise, f.loader.Load(ctx, "owner-1").Tier())

	// unknown to the source, but cached users are still dropped
	_, err = f.loader.InvalidateWorkspace(ctx, "ws-gone")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, ErrWorkspaceNotFound)
}

func TestLoader_Sweep(t *testing.T) {
	f := newLoaderFixture(t, time.Second)
	ctx := context.Background()

	f.loader.Load(ctx, "tech-1")
	f.loader.Load(ctx, "stranger")
	assert.Zero(t, f.loader.Sweep(ctx))

	f.clock.Advance(DefaultTTL + time.Second)
	assert.Equal(t, 2, f.loader.Sweep(ctx))
}
