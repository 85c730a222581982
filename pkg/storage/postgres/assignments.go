package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pharmacare/permengine/pkg/rbac"
)

// AssignmentRepository stores role assignments. Rows are only ever
// inserted or marked revoked.
type AssignmentRepository struct {
	db *sql.DB
}

// NewAssignmentRepository creates an assignment repository on db
func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `id, user_id, role_id, workspace_id, temporary, expires_at, reason,
	assigned_by, assigned_at, active, revoked_by, revoked_at, revocation_reason`

func (r *AssignmentRepository) ListAssignments(ctx context.Context) ([]rbac.Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments ORDER BY assigned_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []rbac.Assignment
	for rows.Next() {
		var (
			a                    rbac.Assignment
			workspaceID          sql.NullString
			expiresAt, revokedAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &workspaceID, &a.Temporary, &expiresAt,
			&a.Reason, &a.AssignedBy, &a.AssignedAt, &a.Active, &a.RevokedBy, &revokedAt,
			&a.RevocationReason); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.WorkspaceID = stringPtr(workspaceID)
		a.ExpiresAt = timePtr(expiresAt)
		a.RevokedAt = timePtr(revokedAt)
		a.AssignedAt = a.AssignedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignments: %w", err)
	}
	return out, nil
}

// Apply revokes then inserts inside one transaction. A revoked row that is
// no longer active fails the whole change set.
func (r *AssignmentRepository) Apply(ctx context.Context, changes rbac.ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range changes.Revoked {
		res, err := tx.ExecContext(ctx, `
			UPDATE role_assignments
			SET active = FALSE, revoked_by = $1, revoked_at = $2, revocation_reason = $3
			WHERE id = $4 AND active`,
			a.RevokedBy, nullTime(a.RevokedAt), a.RevocationReason, a.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to revoke assignment %s: %w", a.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", rbac.ErrAssignmentNotFound, a.ID)
		}
	}

	for _, a := range changes.Inserted {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_assignments (`+assignmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			a.ID, a.UserID, a.RoleID, nullString(a.WorkspaceID), a.Temporary, nullTime(a.ExpiresAt),
			a.Reason, a.AssignedBy, a.AssignedAt.UTC(), a.Active, a.RevokedBy, nullTime(a.RevokedAt),
			a.RevocationReason,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assignment %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignment changes: %w", err)
	}
	return nil
}
