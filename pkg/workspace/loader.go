package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pharmacare/permengine/pkg/billing"
	"github.com/pharmacare/permengine/pkg/cache"
	"github.com/pharmacare/permengine/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultFetchTimeout = 3 * time.Second

	keyPrefix = "wsctx:"
)

// LoaderConfig configures a Loader
type LoaderConfig struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	Clock        func() time.Time
	Logger       *logrus.Logger
	Metrics      *observability.Metrics
}

// Loader builds and caches the workspace context of a user. Load never
// fails: upstream errors produce an empty context that is not cached.
type Loader struct {
	source  Source
	cache   cache.Cache[*Context]
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	log     *logrus.Logger
	metrics *observability.Metrics

	group singleflight.Group
	// bumped by every invalidation; a load that overlaps one is not cached.
	// Cache writes hold the read lock so a bump cannot fall between the
	// epoch check and the write.
	epochMu sync.RWMutex
	epoch   uint64

	// workspace id -> users whose cached context points at it
	indexMu sync.Mutex
	index   map[string]map[string]struct{}
}

// NewLoader creates a loader over source, caching in c
func NewLoader(source Source, c cache.Cache[*Context], cfg LoaderConfig) *Loader {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewDiscardMetrics()
	}
	return &Loader{
		source:  source,
		cache:   c,
		ttl:     cfg.TTL,
		timeout: cfg.FetchTimeout,
		now:     cfg.Clock,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		index:   make(map[string]map[string]struct{}),
	}
}

func cacheKey(userID string) string {
	return keyPrefix + userID
}

// Load returns the user's workspace context, from cache when fresh
func (l *Loader) Load(ctx context.Context, userID string) *Context {
	if wctx, ok := l.cache.Get(ctx, cacheKey(userID)); ok {
		l.metrics.WorkspaceLoadsTotal.WithLabelValues("hit").Inc()
		return wctx
	}

	// coalesced callers share the fetch, so one caller going away must not
	// fail it for the rest
	shared := context.WithoutCancel(ctx)
	v, _, _ := l.group.Do(userID, func() (interface{}, error) {
		return l.loadUncached(shared, userID), nil
	})
	return v.(*Context)
}

func (l *Loader) loadUncached(ctx context.Context, userID string) *Context {
	ctx, span := observability.Tracer().Start(ctx, "workspace.Load")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	epoch := l.currentEpoch()
	start := time.Now()
	defer func() {
		l.metrics.WorkspaceLoadDuration.Observe(time.Since(start).Seconds())
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	wctx, err := l.fetch(fetchCtx, userID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: fetch exceeded %s: %w", ErrUpstreamUnavailable, l.timeout, err)
		} else if !errors.Is(err, ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "workspace fetch failed")
		l.log.WithError(err).WithField("user_id", userID).Warn("workspace context unavailable, using empty context")
		l.metrics.WorkspaceLoadsTotal.WithLabelValues("error").Inc()
		return Empty(l.now())
	}

	outcome := "loaded"
	if !wctx.HasWorkspace() {
		outcome = "empty"
	}
	l.metrics.WorkspaceLoadsTotal.WithLabelValues(outcome).Inc()

	if wctx.HasWorkspace() {
		span.SetAttributes(attribute.String("workspace.id", wctx.Workspace.ID))
	}

	l.epochMu.RLock()
	defer l.epochMu.RUnlock()
	if l.epoch != epoch {
		return wctx
	}
	l.cache.Set(ctx, cacheKey(userID), wctx, l.ttl)
	if wctx.HasWorkspace() {
		l.track(wctx.Workspace.ID, userID)
	}
	return wctx
}

func (l *Loader) currentEpoch() uint64 {
	l.epochMu.RLock()
	defer l.epochMu.RUnlock()
	return l.epoch
}

func (l *Loader) bumpEpoch() {
	l.epochMu.Lock()
	l.epoch++
	l.epochMu.Unlock()
}

// fetch runs the lookup chain against the source
func (l *Loader) fetch(ctx context.Context, userID string) (*Context, error) {
	ws, err := l.source.WorkspaceForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace for user %s: %w", userID, err)
	}
	if ws == nil {
		return Empty(l.now()), nil
	}

	sub, err := l.source.SubscriptionFor(ctx, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription for workspace %s: %w", ws.ID, err)
	}

	plan, err := l.resolvePlan(ctx, ws, sub)
	if err != nil {
		return nil, err
	}
	return build(ws, sub, plan, l.now()), nil
}

// resolvePlan prefers the subscription's plan and falls back to the plan
// stored on the workspace
func (l *Loader) resolvePlan(ctx context.Context, ws *Workspace, sub *billing.Subscription) (*billing.Plan, error) {
	switch {
	case sub != nil && sub.PlanID != "":
		plan, err := l.source.Plan(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan %s: %w", sub.PlanID, err)
		}
		return plan, nil
	case sub != nil && sub.Tier != "":
		plan, err := l.source.PlanByTier(ctx, sub.Tier)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan for tier %s: %w", sub.Tier, err)
		}
		return plan, nil
	case ws.PlanID != "":
		plan, err := l.source.Plan(ctx, ws.PlanID)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan %s: %w", ws.PlanID, err)
		}
		return plan, nil
	}
	return nil, nil
}

func (l *Loader) track(workspaceID, userID string) {
	l.indexMu.Lock()
	defer l.indexMu.Unlock()

	set, ok := l.index[workspaceID]
	if !ok {
		set = make(map[string]struct{})
		l.index[workspaceID] = set
	}
	set[userID] = struct{}{}
}

// Invalidate drops the cached context of one user
func (l *Loader) Invalidate(ctx context.Context, userID string) {
	l.bumpEpoch()
	l.cache.Delete(ctx, cacheKey(userID))
	l.group.Forget(userID)
	l.metrics.InvalidationsTotal.WithLabelValues("workspace_user").Inc()
}

// InvalidateWorkspace drops the cached context of every member of the
// workspace and returns their IDs. Users already cached against the
// workspace are invalidated even when the member lookup fails.
func (l *Loader) InvalidateWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	l.bumpEpoch()
	affected := make(map[string]struct{})

	l.indexMu.Lock()
	for id := range l.index[workspaceID] {
		affected[id] = struct{}{}
	}
	delete(l.index, workspaceID)
	l.indexMu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	members, err := l.source.MemberIDs(fetchCtx, workspaceID)
	if err != nil {
		err = fmt.Errorf("%w: failed to list members of %s: %w", ErrUpstreamUnavailable, workspaceID, err)
		l.log.WithError(err).Warn("invalidating cached members only")
	}
	for _, id := range members {
		affected[id] = struct{}{}
	}

	ids := make([]string, 0, len(affected))
	keys := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
		keys = append(keys, cacheKey(id))
		l.group.Forget(id)
	}
	sort.Strings(ids)
	l.cache.Delete(ctx, keys...)
	l.metrics.InvalidationsTotal.WithLabelValues("workspace").Inc()

	l.log.WithFields(logrus.Fields{"workspace_id": workspaceID, "users": len(ids)}).Info("workspace context invalidated")
	return ids, err
}

// Purge drops every cached context
func (l *Loader) Purge(ctx context.Context) {
	l.bumpEpoch()
	l.cache.DeletePrefix(ctx, keyPrefix)
	l.indexMu.Lock()
	l.index = make(map[string]map[string]struct{})
	l.indexMu.Unlock()
}

// Sweep evicts expired contexts and returns how many were removed
func (l *Loader) Sweep(ctx context.Context) int {
	return l.cache.Sweep(ctx)
}
