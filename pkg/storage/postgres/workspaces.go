package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pharmacare/permengine/pkg/billing"
	"github.com/pharmacare/permengine/pkg/workspace"
)

// WorkspaceSource reads workspaces, subscriptions and plans. Reads go to a
// replica when the connection manager has one.
type WorkspaceSource struct {
	conn *ConnectionManager
}

// NewWorkspaceSource creates a workspace source on the managed connections
func NewWorkspaceSource(conn *ConnectionManager) *WorkspaceSource {
	return &WorkspaceSource{conn: conn}
}

const workspaceColumns = `w.id, w.name, w.owner_id, w.plan_id, w.trial_ends_at, w.status, w.created_at`

func scanWorkspace(s rowScanner) (*workspace.Workspace, error) {
	var (
		ws       workspace.Workspace
		trialEnd sql.NullTime
	)
	if err := s.Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.PlanID, &trialEnd, &ws.Status, &ws.CreatedAt); err != nil {
		return nil, err
	}
	ws.TrialEndsAt = timePtr(trialEnd)
	ws.CreatedAt = ws.CreatedAt.UTC()
	return &ws, nil
}

// WorkspaceForUser prefers a workspace the user owns over one they are a
// member of. The oldest wins within each group.
func (s *WorkspaceSource) WorkspaceForUser(ctx context.Context, userID string) (*workspace.Workspace, error) {
	db := s.conn.Replica()

	ws, err := scanWorkspace(db.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces w
		WHERE w.owner_id = $1
		ORDER BY w.created_at, w.id LIMIT 1`, userID))
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to find owned workspace: %w", err)
	}

	ws, err = scanWorkspace(db.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY m.joined_at, w.id LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find member workspace: %w", err)
	}
	return ws, nil
}

// SubscriptionFor returns the most recently updated subscription in a
// status the loader considers
func (s *WorkspaceSource) SubscriptionFor(ctx context.Context, workspaceID string) (*billing.Subscription, error) {
	var (
		sub                 billing.Subscription
		trialEnd, periodEnd sql.NullTime
	)
	err := s.conn.Replica().QueryRowContext(ctx, `
		SELECT id, workspace_id, plan_id, tier, status, trial_ends_at, current_period_end,
			created_at, updated_at
		FROM subscriptions
		WHERE workspace_id = $1 AND status IN ($2, $3, $4, $5)
		ORDER BY updated_at DESC, id LIMIT 1`,
		workspaceID,
		string(billing.SubscriptionStatusTrial), string(billing.SubscriptionStatusActive),
		string(billing.SubscriptionStatusPastDue), string(billing.SubscriptionStatusExpired),
	).Scan(&sub.ID, &sub.WorkspaceID, &sub.PlanID, &sub.Tier, &sub.Status, &trialEnd, &periodEnd,
		&sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub.TrialEndsAt = timePtr(trialEnd)
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

const planColumns = `id, name, tier, features, limits, active`

func scanPlan(s rowScanner) (*billing.Plan, error) {
	var (
		p                billing.Plan
		features, limits string
	)
	if err := s.Scan(&p.ID, &p.Name, &p.Tier, &features, &limits, &p.Active); err != nil {
		return nil, err
	}
	if err := decodeJSON(features, &p.Features); err != nil {
		return nil, fmt.Errorf("plan %s: %w", p.ID, err)
	}
	if err := decodeJSON(limits, &p.Limits); err != nil {
		return nil, fmt.Errorf("plan %s: %w", p.ID, err)
	}
	return &p, nil
}

func (s *WorkspaceSource) Plan(ctx context.Context, planID string) (*billing.Plan, error) {
	p, err := scanPlan(s.conn.Replica().QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`, planID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s not found", planID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *WorkspaceSource) PlanByTier(ctx context.Context, tier billing.PlanTier) (*billing.Plan, error) {
	p, err := scanPlan(s.conn.Replica().QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE tier = $1 AND active ORDER BY id LIMIT 1`, string(tier)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active plan for tier %s", tier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan by tier: %w", err)
	}
	return p, nil
}

func (s *WorkspaceSource) MemberIDs(ctx context.Context, workspaceID string) ([]string, error) {
	db := s.conn.Replica()

	var ownerID string
	err := db.QueryRowContext(ctx, `SELECT owner_id FROM workspaces WHERE id = $1`, workspaceID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workspace.ErrWorkspaceNotFound, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace owner: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM workspace_members WHERE workspace_id = $1 AND user_id <> $2
		ORDER BY user_id`, workspaceID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace members: %w", err)
	}
	defer rows.Close()

	ids := []string{ownerID}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return ids, nil
}

// PutWorkspace upserts a workspace on the primary and records its owner as a member
func (s *WorkspaceSource) PutWorkspace(ctx context.Context, ws workspace.Workspace) error {
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, owner_id, plan_id, trial_ends_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			plan_id = excluded.plan_id,
			trial_ends_at = excluded.trial_ends_at,
			status = excluded.status`,
		ws.ID, ws.Name, ws.OwnerID, ws.PlanID, nullTime(ws.TrialEndsAt), ws.Status, ws.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to put workspace: %w", err)
	}
	if err := addMember(ctx, tx, ws.ID, ws.OwnerID, ws.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workspace: %w", err)
	}
	return nil
}

// AddMember places a user in a workspace
func (s *WorkspaceSource) AddMember(ctx context.Context, workspaceID, userID string) error {
	return addMember(ctx, s.conn.Primary(), workspaceID, userID, time.Now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addMember(ctx context.Context, db execer, workspaceID, userID string, at time.Time) error {
	if userID == "" {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, workspaceID, userID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}
	return nil
}

// PutSubscription upserts a subscription
func (s *WorkspaceSource) PutSubscription(ctx context.Context, sub billing.Subscription) error {
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = now
	}
	_, err := s.conn.Primary().ExecContext(ctx, `
		INSERT INTO subscriptions (id, workspace_id, plan_id, tier, status, trial_ends_at,
			current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			plan_id = excluded.plan_id,
			tier = excluded.tier,
			status = excluded.status,
			trial_ends_at = excluded.trial_ends_at,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`,
		sub.ID, sub.WorkspaceID, sub.PlanID, string(sub.Tier), string(sub.Status),
		nullTime(sub.TrialEndsAt), nullTime(sub.CurrentPeriodEnd), sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put subscription: %w", err)
	}
	return nil
}

// PutPlan upserts a plan
func (s *WorkspaceSource) PutPlan(ctx context.Context, p billing.Plan) error {
	features, err := encodeJSON(p.Features)
	if err != nil {
		return err
	}
	limits, err := encodeJSON(p.Limits)
	if err != nil {
		return err
	}
	_, err = s.conn.Primary().ExecContext(ctx, `
		INSERT INTO plans (`+planColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			tier = excluded.tier,
			features = excluded.features,
			limits = excluded.limits,
			active = excluded.active`,
		p.ID, p.Name, string(p.Tier), features, limits, p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to put plan %s: %w", p.ID, err)
	}
	return nil
}

// SeedPlans inserts any default plan missing by ID. Existing plans are left
// as they are.
func (s *WorkspaceSource) SeedPlans(ctx context.Context) error {
	for _, p := range billing.DefaultPlans() {
		features, err := encodeJSON(p.Features)
		if err != nil {
			return err
		}
		limits, err := encodeJSON(p.Limits)
		if err != nil {
			return err
		}
		if _, err := s.conn.Primary().ExecContext(ctx, `
			INSERT INTO plans (`+planColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT DO NOTHING`,
			p.ID, p.Name, string(p.Tier), features, limits, p.Active,
		); err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.ID, err)
		}
	}
	return nil
}
