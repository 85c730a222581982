package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pharmacare/permengine/pkg/rbac"
)

// RoleRepository stores roles in the roles table
type RoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a role repository on db
func NewRoleRepository(db *sql.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, name, display_name, description, category, permissions,
	parent_role_id, active, built_in, created_by, created_at, updated_at`

func (r *RoleRepository) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return roles, nil
}

func scanRole(s rowScanner) (rbac.Role, error) {
	var (
		role        rbac.Role
		permissions string
		parent      sql.NullString
	)
	err := s.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description, &role.Category,
		&permissions, &parent, &role.Active, &role.BuiltIn, &role.CreatedBy,
		&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return rbac.Role{}, fmt.Errorf("failed to scan role: %w", err)
	}
	if err := decodeJSON(permissions, &role.Permissions); err != nil {
		return rbac.Role{}, fmt.Errorf("role %s: %w", role.ID, err)
	}
	role.ParentID = stringPtr(parent)
	return role, nil
}

func (r *RoleRepository) CreateRole(ctx context.Context, role *rbac.Role) error {
	permissions, err := encodeJSON(nonNil(role.Permissions))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING`,
		role.ID, role.Name, role.DisplayName, role.Description, role.Category, permissions,
		nullString(role.ParentID), role.Active, role.BuiltIn, role.CreatedBy,
		role.CreatedAt.UTC(), role.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", rbac.ErrDuplicateRole, role.Name)
	}
	return nil
}

func (r *RoleRepository) UpdateRole(ctx context.Context, role *rbac.Role) error {
	permissions, err := encodeJSON(nonNil(role.Permissions))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE roles
		SET display_name = $1, description = $2, category = $3, permissions = $4,
			parent_role_id = $5, active = $6, updated_at = $7
		WHERE id = $8`,
		role.DisplayName, role.Description, role.Category, permissions,
		nullString(role.ParentID), role.Active, role.UpdatedAt.UTC(), role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, role.ID)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
