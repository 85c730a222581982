package engine

import (
	"context"
	"database/sql"
	"io"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacare/permengine/pkg/billing"
	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/pharmacare/permengine/pkg/config"
	"github.com/pharmacare/permengine/pkg/observability"
	"github.com/pharmacare/permengine/pkg/rbac"
	"github.com/pharmacare/permengine/pkg/resolver"
	"github.com/pharmacare/permengine/pkg/users"
	"github.com/pharmacare/permengine/pkg/workspace"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
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

type harness struct {
	engine  *Engine
	source  *workspace.MemorySource
	clock   *testClock
	metrics *observability.Metrics
}

// newHarness builds an in-memory engine with one workspace on the basic plan:
// an owner, a pharmacist and a technician
func newHarness(t testing.TB) *harness {
	t.Helper()
	ctx := context.Background()

	clock := newTestClock()
	source := workspace.NewMemorySource()
	source.PutWorkspace(workspace.Workspace{ID: "ws-1", Name: "Corner Pharmacy", OwnerID: "owner", Status: "active"})
	source.AddMember("ws-1", "pharm")
	source.AddMember("ws-1", "tech")
	source.PutSubscription(billing.Subscription{
		ID: "sub-1", WorkspaceID: "ws-1", PlanID: "plan_basic", Tier: billing.TierBasic,
		Status: billing.SubscriptionStatusActive,
	})

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	e, err := New(ctx, config.Default(), Deps{
		Logger:  observability.NewLogger(observability.ErrorLevel, io.Discard),
		Metrics: metrics,
		Clock:   clock.Now,
		Source:  source,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	for _, u := range []users.User{
		{ID: "owner", SystemRole: catalog.SystemRoleOwner, WorkplaceRole: catalog.WorkplaceRoleOwner, Active: true},
		{ID: "pharm", SystemRole: catalog.SystemRolePharmacist, WorkplaceRole: catalog.WorkplaceRolePharmacist, Active: true},
		{ID: "tech", SystemRole: catalog.SystemRolePharmacyTeam, WorkplaceRole: catalog.WorkplaceRoleTechnician, Active: true},
	} {
		_, err := e.Users().Put(ctx, u)
		require.NoError(t, err)
	}

	return &harness{engine: e, source: source, clock: clock, metrics: metrics}
}

func (h *harness) check(t *testing.T, userID, action string) resolver.Decision {
	t.Helper()
	d, err := h.engine.Check(context.Background(), userID, action)
	require.NoError(t, err)
	return d
}

func (h *harness) roleID(t *testing.T, name string) string {
	t.Helper()
	role, err := h.engine.Roles().GetRoleByName(name)
	require.NoError(t, err)
	return role.ID
}

func TestEngine_PharmacistOnBasicPlan(t *testing.T) {
	h := newHarness(t)

	d := h.check(t, "pharm", "patient.create")
	assert.True(t, d.Allowed)
	assert.Equal(t, "legacy:Pharmacist", d.Source)

	d = h.check(t, "pharm", "adr.create")
	assert.False(t, d.Allowed)
	assert.Equal(t, resolver.ReasonTierRequired+":pharmily", d.Reason)
}

func TestEngine_UnknownUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Check(context.Background(), "ghost", "patient.read")
	assert.ErrorIs(t, err, users.ErrUserNotFound)

	_, err = h.engine.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestEngine_WorkspaceInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.False(t, h.check(t, "pharm", "adr.create").Allowed)

	h.source.PutSubscription(billing.Subscription{
		ID: "sub-1", WorkspaceID: "ws-1", PlanID: "plan_pharmily", Tier: billing.TierPharmily,
		Status: billing.SubscriptionStatusActive,
	})
	assert.False(t, h.check(t, "pharm", "adr.create").Allowed, "served from cache until invalidated")

	ids, err := h.engine.InvalidateWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "pharm", "tech"}, ids)

	d := h.check(t, "pharm", "adr.create")
	assert.True(t, d.Allowed)
	assert.False(t, d.Cached)
}

func TestEngine_DirectGrantAndDenyInvalidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := h.check(t, "tech", "patient.delete")
	assert.False(t, d.Allowed)
	assert.Equal(t, resolver.ReasonNotGranted, d.Reason)

	_, err := h.engine.Users().Grant(ctx, "tech", "patient.delete")
	require.NoError(t, err)
	d = h.check(t, "tech", "patient.delete")
	assert.True(t, d.Allowed)
	assert.Equal(t, "direct", d.Source)

	_, err = h.engine.Users().Deny(ctx, "pharm", "patient.create")
	require.NoError(t, err)
	d = h.check(t, "pharm", "patient.create")
	assert.False(t, d.Allowed)
	assert.Equal(t, resolver.ReasonDenied, d.Reason)
}

func TestEngine_AssignmentSyncsUserAndDecisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pharmacist := h.roleID(t, rbac.RolePharmacist)

	assert.False(t, h.check(t, "tech", "report.view").Allowed)

	_, err := h.engine.Assignments().Assign(ctx, "tech", pharmacist, rbac.AssignOptions{Actor: "owner"})
	require.NoError(t, err)

	u, err := h.engine.Users().Get(ctx, "tech")
	require.NoError(t, err)
	assert.Equal(t, []string{pharmacist}, u.AssignedRoles)

	d := h.check(t, "tech", "report.view")
	assert.True(t, d.Allowed)
	assert.Equal(t, "role:Pharmacist", d.Source)

	require.NoError(t, h.engine.Assignments().Revoke(ctx, "tech", pharmacist, rbac.RevokeOptions{Actor: "owner"}))
	assert.False(t, h.check(t, "tech", "report.view").Allowed)
	u, err = h.engine.Users().Get(ctx, "tech")
	require.NoError(t, err)
	assert.Empty(t, u.AssignedRoles)
}

func TestEngine_RoleChangeInvalidatesEveryone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pharmacist := h.roleID(t, rbac.RolePharmacist)

	_, err := h.engine.Assignments().Assign(ctx, "tech", pharmacist, rbac.AssignOptions{Actor: "owner"})
	require.NoError(t, err)
	assert.True(t, h.check(t, "tech", "report.view").Allowed)

	_, err = h.engine.Roles().DeactivateRole(ctx, pharmacist)
	require.NoError(t, err)
	assert.False(t, h.check(t, "tech", "report.view").Allowed)
}

func TestEngine_ExpireAssignments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pharmacist := h.roleID(t, rbac.RolePharmacist)

	expires := h.clock.Now().Add(time.Hour)
	_, err := h.engine.Assignments().Assign(ctx, "tech", pharmacist, rbac.AssignOptions{
		Temporary: true, ExpiresAt: &expires, Actor: "owner",
	})
	require.NoError(t, err)
	assert.True(t, h.check(t, "tech", "report.view").Allowed)

	h.clock.Advance(2 * time.Hour)
	assert.False(t, h.check(t, "tech", "report.view").Allowed, "expired rows stop granting before cleanup")

	n, err := h.engine.ExpireAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AssignmentsExpiredTotal))

	u, err := h.engine.Users().Get(ctx, "tech")
	require.NoError(t, err)
	assert.Empty(t, u.AssignedRoles)

	history := h.engine.Assignments().History("tech")
	require.Len(t, history, 1)
	assert.Equal(t, rbac.ReasonExpired, history[0].RevocationReason)
}

func TestEngine_TemporaryGrantExpiresWithinCacheTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pharmacist := h.roleID(t, rbac.RolePharmacist)

	expires := h.clock.Now().Add(time.Second)
	_, err := h.engine.Assignments().Assign(ctx, "tech", pharmacist, rbac.AssignOptions{
		Temporary: true, ExpiresAt: &expires, Actor: "owner",
	})
	require.NoError(t, err)

	d := h.check(t, "tech", "report.view")
	require.True(t, d.Allowed)
	assert.Equal(t, "role:Pharmacist", d.Source)
	assert.True(t, h.check(t, "tech", "report.view").Cached)

	// no ExpireAssignments run: the cached grant must lapse on its own
	h.clock.Advance(2 * time.Second)
	assert.Empty(t, h.engine.Assignments().ActiveRolesFor("tech", nil))

	d = h.check(t, "tech", "report.view")
	assert.False(t, d.Allowed)
	assert.False(t, d.Cached)
}

func TestEngine_SweepCaches(t *testing.T) {
	h := newHarness(t)

	h.check(t, "pharm", "patient.read")
	h.check(t, "owner", "patient.read")

	assert.Equal(t, 0, h.engine.SweepCaches(context.Background()))
	h.clock.Advance(10 * time.Minute)
	// two decisions and two workspace contexts
	assert.Equal(t, 4, h.engine.SweepCaches(context.Background()))
}

func TestEngine_StartStop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.engine.Start())
	assert.Error(t, h.engine.Start())

	h.engine.runSweep()
	h.engine.runExpiry()
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.JobRunsTotal.WithLabelValues(jobCacheSweep, jobStatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.JobRunsTotal.WithLabelValues(jobAssignmentExpiry, jobStatusSuccess)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Stop(ctx))
	require.NoError(t, h.engine.Stop(ctx))
}

func TestEngine_Resolve(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.Resolve(context.Background(), "pharm")
	require.NoError(t, err)
	assert.True(t, res.Has("patient.create"))
	assert.False(t, res.Has("adr.create"))
	assert.Contains(t, res.Blocked, "adr.create")
	require.NotNil(t, res.WorkspaceID)
	assert.Equal(t, "ws-1", *res.WorkspaceID)
}

func TestEngine_OverSQL(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	clock := newTestClock()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	e, err := New(ctx, config.Default(), Deps{Logger: logger, Clock: clock.Now, DB: db})
	require.NoError(t, err)
	assert.Same(t, db, e.DB())

	src, ok := e.Source().(interface {
		PutWorkspace(context.Context, workspace.Workspace) error
		PutSubscription(context.Context, billing.Subscription) error
	})
	require.True(t, ok)
	require.NoError(t, src.PutWorkspace(ctx, workspace.Workspace{ID: "ws-1", Name: "Corner", OwnerID: "pharm", Status: "active"}))
	require.NoError(t, src.PutSubscription(ctx, billing.Subscription{
		ID: "sub-1", WorkspaceID: "ws-1", Tier: billing.TierBasic, Status: billing.SubscriptionStatusActive,
	}))

	_, err = e.Users().Put(ctx, users.User{
		ID: "pharm", SystemRole: catalog.SystemRolePharmacist, WorkplaceRole: catalog.WorkplaceRolePharmacist, Active: true,
	})
	require.NoError(t, err)

	d, err := e.Check(ctx, "pharm", "patient.create")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	require.NoError(t, e.Close())

	// a second engine on the same database finds the seeded roles and the user
	again, err := New(ctx, config.Default(), Deps{Logger: logger, Clock: clock.Now, DB: db})
	require.NoError(t, err)
	assert.Len(t, again.Roles().ListRoles(), len(rbac.BuiltInRoles()))
	d, err = again.Check(ctx, "pharm", "patient.create")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
