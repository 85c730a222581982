package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
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

// failingRoleRepo rejects writes while err is set
type failingRoleRepo struct {
	*MemoryRoleRepository
	err error
}

func (r *failingRoleRepo) CreateRole(ctx context.Context, role *Role) error {
	if r.err != nil {
		return r.err
	}
	return r.MemoryRoleRepository.CreateRole(ctx, role)
}

func (r *failingRoleRepo) UpdateRole(ctx context.Context, role *Role) error {
	if r.err != nil {
		return r.err
	}
	return r.MemoryRoleRepository.UpdateRole(ctx, role)
}

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestHierarchy(t *testing.T, repo RoleRepository, clock *testClock) *HierarchyStore {
	t.Helper()
	store := NewHierarchyStore(repo, HierarchyConfig{
		Catalog: catalog.DefaultCatalog(),
		Clock:   clock.Now,
		Logger:  quietLogger(),
	})
	require.NoError(t, store.Load(context.Background()))
	return store
}

// buildChain creates base <- mid <- top
func buildChain(t *testing.T, store *HierarchyStore) (base, mid, top Role) {
	t.Helper()
	ctx := context.Background()

	base, err := store.CreateRole(ctx, RoleInput{Name: "base", Permissions: []string{"patient.read", "dashboard.view"}})
	require.NoError(t, err)
	mid, err = store.CreateRole(ctx, RoleInput{Name: "mid", Permissions: []string{"patient.create"}, ParentID: &base.ID})
	require.NoError(t, err)
	top, err = store.CreateRole(ctx, RoleInput{Name: "top", Permissions: []string{"mtr.create", "patient.read"}, ParentID: &mid.ID})
	require.NoError(t, err)
	return base, mid, top
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestHierarchy_TransitiveInheritance(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	base, mid, top := buildChain(t, store)

	perms, err := store.EffectivePermissions(top.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"patient.read", "dashboard.view", "patient.create", "mtr.create"}, keys(perms))

	perms, err = store.EffectivePermissions(base.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"patient.read", "dashboard.view"}, keys(perms))

	assert.Equal(t, 0, base.Level)
	assert.Equal(t, 1, mid.Level)
	assert.Equal(t, 2, top.Level)

	path, err := store.InheritancePath(top.ID)
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, []string{"top", "mid", "base"}, []string{path[0].Name, path[1].Name, path[2].Name})
}

func TestHierarchy_PermissionOrigins(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	_, mid, top := buildChain(t, store)

	origins, err := store.PermissionOrigins(top.ID)
	require.NoError(t, err)

	// top redeclares patient.read, so it is the nearest origin
	assert.Equal(t, "top", origins["patient.read"].Name)
	assert.Equal(t, "base", origins["dashboard.view"].Name)
	assert.Equal(t, mid.ID, origins["patient.create"].ID)
	assert.Equal(t, "top", origins["mtr.create"].Name)
}

func TestHierarchy_CycleInStoredData(t *testing.T) {
	repo := NewMemoryRoleRepository()
	ctx := context.Background()
	r1, r2, r3 := "r1", "r2", "r3"
	now := time.Now()
	require.NoError(t, repo.CreateRole(ctx, &Role{ID: r1, Name: "R1", Active: true, ParentID: &r3, Permissions: []string{"patient.read"}, CreatedAt: now}))
	require.NoError(t, repo.CreateRole(ctx, &Role{ID: r2, Name: "R2", Active: true, ParentID: &r1, CreatedAt: now}))
	require.NoError(t, repo.CreateRole(ctx, &Role{ID: r3, Name: "R3", Active: true, ParentID: &r2, CreatedAt: now}))

	store := newTestHierarchy(t, repo, newTestClock())

	for _, id := range []string{r1, r2, r3} {
		_, err := store.EffectivePermissions(id)
		assert.ErrorIs(t, err, ErrCyclicHierarchy, id)
	}
}

func TestHierarchy_ReparentRejectsCycle(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	base, mid, top := buildChain(t, store)
	ctx := context.Background()

	_, err := store.Reparent(ctx, base.ID, &top.ID)
	assert.ErrorIs(t, err, ErrCyclicHierarchy)

	_, err = store.Reparent(ctx, mid.ID, &mid.ID)
	assert.ErrorIs(t, err, ErrCyclicHierarchy)

	got, err := store.GetRole(base.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentID)

	// Moving top to the root is fine and drops what it inherited
	moved, err := store.Reparent(ctx, top.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, moved.Level)

	perms, err := store.EffectivePermissions(top.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mtr.create", "patient.read"}, keys(perms))
}

func TestHierarchy_InactiveRoleIsSkipped(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	_, mid, top := buildChain(t, store)
	ctx := context.Background()

	_, err := store.DeactivateRole(ctx, mid.ID)
	require.NoError(t, err)

	perms, err := store.EffectivePermissions(top.ID)
	require.NoError(t, err)
	assert.NotContains(t, perms, "patient.create")
	// the walk continues past the inactive role
	assert.Contains(t, perms, "dashboard.view")

	_, err = store.ActivateRole(ctx, mid.ID)
	require.NoError(t, err)

	perms, err = store.EffectivePermissions(top.ID)
	require.NoError(t, err)
	assert.Contains(t, perms, "patient.create")
}

func TestHierarchy_UpdatePropagatesToDescendants(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	base, _, top := buildChain(t, store)

	// warm the memo
	_, err := store.EffectivePermissions(top.ID)
	require.NoError(t, err)

	perms := []string{"patient.read", "report.view"}
	_, err = store.UpdateRole(context.Background(), base.ID, RoleUpdate{Permissions: &perms})
	require.NoError(t, err)

	got, err := store.EffectivePermissions(top.ID)
	require.NoError(t, err)
	assert.Contains(t, got, "report.view")
	assert.NotContains(t, got, "dashboard.view")
}

func TestHierarchy_Validation(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	ctx := context.Background()

	_, err := store.CreateRole(ctx, RoleInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = store.CreateRole(ctx, RoleInput{Name: "ghost", Permissions: []string{"ghost.summon"}})
	assert.ErrorIs(t, err, ErrUnknownPermission)

	missing := "nope"
	_, err = store.CreateRole(ctx, RoleInput{Name: "orphan", ParentID: &missing})
	assert.ErrorIs(t, err, ErrRoleNotFound)

	_, err = store.CreateRole(ctx, RoleInput{Name: "dup", Permissions: []string{"patient.read", "patient.read"}})
	require.NoError(t, err)
	_, err = store.CreateRole(ctx, RoleInput{Name: "dup"})
	assert.ErrorIs(t, err, ErrDuplicateRole)

	role, err := store.GetRoleByName("dup")
	require.NoError(t, err)
	assert.Equal(t, []string{"patient.read"}, role.Permissions)
	assert.Equal(t, "dup", role.DisplayName)

	_, err = store.UpdateRole(ctx, "missing", RoleUpdate{})
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

func TestHierarchy_ListenersRunAfterPersist(t *testing.T) {
	store := newTestHierarchy(t, NewMemoryRoleRepository(), newTestClock())
	ctx := context.Background()

	var notified []string
	store.OnChange(func(_ context.Context, roleID string) {
		// the mutation is visible by the time listeners run
		_, err := store.GetRole(roleID)
		assert.NoError(t, err)
		notified = append(notified, roleID)
	})

	role, err := store.CreateRole(ctx, RoleInput{Name: "listener", Permissions: []string{"patient.read"}})
	require.NoError(t, err)
	_, err = store.DeactivateRole(ctx, role.ID)
	require.NoError(t, err)
	// no-op deactivation does not notify
	_, err = store.DeactivateRole(ctx, role.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{role.ID, role.ID}, notified)
}

func TestHierarchy_FailedPersistLeavesMemoryUntouched(t *testing.T) {
	repo := &failingRoleRepo{MemoryRoleRepository: NewMemoryRoleRepository()}
	store := newTestHierarchy(t, repo, newTestClock())
	ctx := context.Background()

	role, err := store.CreateRole(ctx, RoleInput{Name: "stable", Permissions: []string{"patient.read"}})
	require.NoError(t, err)

	calls := 0
	store.OnChange(func(context.Context, string) { calls++ })

	repo.err = errors.New("connection reset")
	_, err = store.DeactivateRole(ctx, role.ID)
	require.Error(t, err)
	_, err = store.CreateRole(ctx, RoleInput{Name: "lost"})
	require.Error(t, err)

	got, err := store.GetRole(role.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	_, err = store.GetRoleByName("lost")
	assert.ErrorIs(t, err, ErrRoleNotFound)
	assert.Zero(t, calls)
}

func TestHierarchy_SeedBuiltInRoles(t *testing.T) {
	repo := NewMemoryRoleRepository()
	clock := newTestClock()
	store := newTestHierarchy(t, repo, clock)
	ctx := context.Background()

	n, err := store.SeedBuiltInRoles(ctx, SystemActor)
	require.NoError(t, err)
	assert.Equal(t, len(BuiltInRoles()), n)

	n, err = store.SeedBuiltInRoles(ctx, SystemActor)
	require.NoError(t, err)
	assert.Zero(t, n)

	manager, err := store.GetRoleByName(RolePharmacyManager)
	require.NoError(t, err)
	assert.True(t, manager.BuiltIn)
	assert.Equal(t, 4, manager.Level)

	perms, err := store.EffectivePermissions(manager.ID)
	require.NoError(t, err)
	assert.Contains(t, perms, "patient.read")
	assert.Contains(t, perms, "adr.create")
	assert.Contains(t, perms, "team.manage")

	// a fresh store over the same repository sees the same graph
	reloaded := newTestHierarchy(t, repo, clock)
	again, err := reloaded.EffectivePermissions(manager.ID)
	require.NoError(t, err)
	assert.Equal(t, perms, again)

	roles := reloaded.ListRoles()
	require.Len(t, roles, len(BuiltInRoles()))
	assert.Equal(t, 0, roles[0].Level)
}
