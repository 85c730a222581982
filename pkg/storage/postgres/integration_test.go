//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pharmacare/permengine/pkg/billing"
	"github.com/pharmacare/permengine/pkg/rbac"
	"github.com/pharmacare/permengine/pkg/workspace"
)

func TestPostgresIntegration(t *testing.T) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("permengine"),
		tcpostgres.WithUsername("permengine"),
		tcpostgres.WithPassword("permengine"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	conn, err := NewConnectionManager(ConnectionConfig{PrimaryURL: dsn}, log)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, RunMigrations(ctx, conn.Primary(), log))
	require.NoError(t, RunMigrations(ctx, conn.Primary(), log))
	require.NoError(t, conn.HealthCheck(ctx))

	now := time.Now().UTC().Truncate(time.Microsecond)
	clock := func() time.Time { return now }

	roles := rbac.NewHierarchyStore(NewRoleRepository(conn.Primary()), rbac.HierarchyConfig{Clock: clock, Logger: log})
	require.NoError(t, roles.Load(ctx))
	_, err = roles.SeedBuiltInRoles(ctx, rbac.SystemActor)
	require.NoError(t, err)
	manager, err := roles.GetRoleByName(rbac.RolePharmacyManager)
	require.NoError(t, err)

	assignments := rbac.NewAssignmentStore(NewAssignmentRepository(conn.Primary()), roles, rbac.AssignmentConfig{
		Clock: clock, Logger: log,
	})
	require.NoError(t, assignments.Load(ctx))
	ws := "ws-1"
	_, err = assignments.Assign(ctx, "u1", manager.ID, rbac.AssignOptions{WorkspaceID: &ws, Actor: "admin"})
	require.NoError(t, err)
	_, err = assignments.Assign(ctx, "u1", manager.ID, rbac.AssignOptions{WorkspaceID: &ws, Actor: "admin"})
	assert.ErrorIs(t, err, rbac.ErrDuplicateAssignment)

	src := NewWorkspaceSource(conn)
	require.NoError(t, src.SeedPlans(ctx))
	require.NoError(t, src.PutWorkspace(ctx, workspace.Workspace{
		ID: ws, Name: "Corner Pharmacy", OwnerID: "u1", Status: "active", CreatedAt: now,
	}))
	require.NoError(t, src.PutSubscription(ctx, billing.Subscription{
		ID: "sub-1", WorkspaceID: ws, PlanID: "plan_pro", Status: billing.SubscriptionStatusActive,
	}))

	got, err := src.WorkspaceForUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ws, got.ID)

	sub, err := src.SubscriptionFor(ctx, ws)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "plan_pro", sub.PlanID)
}
