package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmacare/permengine/pkg/billing"
)

func newMockSource(t *testing.T) (*WorkspaceSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWorkspaceSource(NewConnectionManagerFromDB(db, nil)), mock
}

func TestWorkspaceSource_WorkspaceForUser_Mock(t *testing.T) {
	src, mock := newMockSource(t)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "name", "owner_id", "plan_id", "trial_ends_at", "status", "created_at"}

	mock.ExpectQuery("FROM workspaces w\\s+WHERE w.owner_id = \\$1").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("JOIN workspace_members m").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("ws-1", "Corner", "owner", "plan_pro", nil, "active", created))

	ws, err := src.WorkspaceForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, ws)
	assert.Equal(t, "ws-1", ws.ID)
	assert.Nil(t, ws.TrialEndsAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkspaceSource_UpstreamErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("workspace lookup", func(t *testing.T) {
		src, mock := newMockSource(t)
		mock.ExpectQuery("FROM workspaces").WillReturnError(errors.New("connection reset"))

		_, err := src.WorkspaceForUser(ctx, "u1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to find owned workspace")
	})

	t.Run("subscription lookup filters statuses", func(t *testing.T) {
		src, mock := newMockSource(t)
		mock.ExpectQuery("FROM subscriptions").
			WithArgs("ws-1", "trial", "active", "past_due", "expired").
			WillReturnError(errors.New("timeout"))

		_, err := src.SubscriptionFor(ctx, "ws-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get subscription")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt plan features", func(t *testing.T) {
		src, mock := newMockSource(t)
		mock.ExpectQuery("FROM plans WHERE tier = \\$1").
			WithArgs(string(billing.TierPro)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "tier", "features", "limits", "active"}).
				AddRow("plan_pro", "Pro", "pro", "{not json", "{}", true))

		_, err := src.PlanByTier(ctx, billing.TierPro)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode column")
	})
}
