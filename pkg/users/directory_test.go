package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenRepo struct {
	*MemoryRepository
	err error
}

func (r *brokenRepo) PutUser(ctx context.Context, u *User) error {
	if r.err != nil {
		return r.err
	}
	return r.MemoryRepository.PutUser(ctx, u)
}

func newTestDirectory(t *testing.T, repo Repository, roles func(string) []string) (*Directory, *[]string) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dir := NewDirectory(repo, Config{
		Catalog:       catalog.DefaultCatalog(),
		AssignedRoles: roles,
		Clock:         func() time.Time { return now },
		Logger:        logger,
	})
	var notified []string
	dir.OnChange(func(_ context.Context, userID string) {
		notified = append(notified, userID)
	})
	return dir, &notified
}

func pharmacist(id string) User {
	return User{
		ID:            id,
		SystemRole:    catalog.SystemRolePharmacist,
		WorkplaceRole: catalog.WorkplaceRolePharmacist,
		Active:        true,
	}
}

func TestDirectory_PutAndGet(t *testing.T) {
	dir, notified := newTestDirectory(t, NewMemoryRepository(), func(string) []string { return []string{"r2", "r1", "r2"} })
	ctx := context.Background()

	in := pharmacist("u1")
	in.DirectPermissions = []string{"report.view", "patient.read", "report.view"}
	in.AssignedRoles = []string{"forged"}

	saved, err := dir.Put(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"patient.read", "report.view"}, saved.DirectPermissions)
	assert.Equal(t, []string{"r1", "r2"}, saved.AssignedRoles)

	got, err := dir.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)
	assert.Equal(t, []string{"u1"}, *notified)

	_, err = dir.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDirectory_PutValidation(t *testing.T) {
	dir, notified := newTestDirectory(t, NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := dir.Put(ctx, User{SystemRole: catalog.SystemRoleOwner})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = dir.Put(ctx, User{ID: "u1", SystemRole: "janitor"})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = dir.Put(ctx, User{ID: "u1", SystemRole: catalog.SystemRoleOwner, WorkplaceRole: "Janitor"})
	assert.ErrorIs(t, err, ErrInvalidUser)

	u := pharmacist("u1")
	u.DirectPermissions = []string{"patient.read"}
	u.DeniedPermissions = []string{"patient.read"}
	_, err = dir.Put(ctx, u)
	assert.ErrorIs(t, err, ErrConflictingPermissions)

	u = pharmacist("u1")
	u.DirectPermissions = []string{"teleport.patient"}
	_, err = dir.Put(ctx, u)
	assert.ErrorIs(t, err, ErrInvalidUser)
	assert.ErrorIs(t, err, catalog.ErrActionNotFound)

	assert.Empty(t, *notified)
}

func TestDirectory_GrantAndDenyConflict(t *testing.T) {
	dir, notified := newTestDirectory(t, NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := dir.Put(ctx, pharmacist("u1"))
	require.NoError(t, err)
	*notified = nil

	u, err := dir.Grant(ctx, "u1", "report.export")
	require.NoError(t, err)
	assert.True(t, u.HasDirect("report.export"))

	_, err = dir.Deny(ctx, "u1", "report.export")
	assert.ErrorIs(t, err, ErrConflictingPermissions)

	u, err = dir.Deny(ctx, "u1", "patient.delete")
	require.NoError(t, err)
	assert.True(t, u.IsDenied("patient.delete"))

	_, err = dir.Grant(ctx, "u1", "patient.delete")
	assert.ErrorIs(t, err, ErrConflictingPermissions)

	// repeating a grant is a no-op and does not notify
	_, err = dir.Grant(ctx, "u1", "report.export")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u1"}, *notified)

	u, err = dir.Undeny(ctx, "u1", "patient.delete")
	require.NoError(t, err)
	assert.False(t, u.IsDenied("patient.delete"))

	u, err = dir.RevokeGrant(ctx, "u1", "report.export")
	require.NoError(t, err)
	assert.Empty(t, u.DirectPermissions)

	_, err = dir.Grant(ctx, "nobody", "report.export")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDirectory_SetPermissions(t *testing.T) {
	dir, _ := newTestDirectory(t, NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := dir.Put(ctx, pharmacist("u1"))
	require.NoError(t, err)

	_, err = dir.SetPermissions(ctx, "u1", []string{"mtr.create"}, []string{"mtr.create"})
	assert.ErrorIs(t, err, ErrConflictingPermissions)

	u, err := dir.SetPermissions(ctx, "u1", []string{"mtr.create", "mtr.read"}, []string{"patient.delete"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mtr.create", "mtr.read"}, u.DirectPermissions)
	assert.Equal(t, []string{"patient.delete"}, u.DeniedPermissions)
}

func TestDirectory_SyncAssignedRoles(t *testing.T) {
	dir, notified := newTestDirectory(t, NewMemoryRepository(), nil)
	ctx := context.Background()

	_, err := dir.Put(ctx, pharmacist("u1"))
	require.NoError(t, err)
	*notified = nil

	require.NoError(t, dir.SyncAssignedRoles(ctx, "u1", []string{"b", "a"}))
	require.NoError(t, dir.SyncAssignedRoles(ctx, "u1", []string{"a", "b"}))

	u, err := dir.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, u.AssignedRoles)
	assert.Len(t, *notified, 1)

	// a later Put keeps the synced list
	_, err = dir.Put(ctx, pharmacist("u1"))
	require.NoError(t, err)
	u, err = dir.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, u.AssignedRoles)

	assert.ErrorIs(t, dir.SyncAssignedRoles(ctx, "ghost", []string{"a"}), ErrUserNotFound)
}

func TestDirectory_FailedWriteDoesNotNotify(t *testing.T) {
	repo := &brokenRepo{MemoryRepository: NewMemoryRepository()}
	dir, notified := newTestDirectory(t, repo, nil)
	ctx := context.Background()

	_, err := dir.Put(ctx, pharmacist("u1"))
	require.NoError(t, err)
	*notified = nil

	repo.err = errors.New("disk full")
	_, err = dir.Grant(ctx, "u1", "patient.read")
	require.Error(t, err)

	u, err := dir.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, u.DirectPermissions)
	assert.Empty(t, *notified)
}
