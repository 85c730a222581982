package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pharmacare/permengine/pkg/users"
)

// UserRepository stores the permission fields of users
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a user repository on db
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*users.User, error) {
	var (
		u                        users.User
		assigned, direct, denied string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, system_role, workplace_role, assigned_roles, direct_permissions,
			denied_permissions, active, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.SystemRole, &u.WorkplaceRole, &assigned, &direct, &denied, &u.Active, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", users.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	for _, col := range []struct {
		raw string
		dst *[]string
	}{
		{assigned, &u.AssignedRoles},
		{direct, &u.DirectPermissions},
		{denied, &u.DeniedPermissions},
	} {
		if err := decodeJSON(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
	}
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// PutUser inserts or replaces a user row
func (r *UserRepository) PutUser(ctx context.Context, u *users.User) error {
	encoded := make([]string, 3)
	for i, list := range [][]string{u.AssignedRoles, u.DirectPermissions, u.DeniedPermissions} {
		s, err := encodeJSON(nonNil(list))
		if err != nil {
			return err
		}
		encoded[i] = s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, system_role, workplace_role, assigned_roles, direct_permissions,
			denied_permissions, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			system_role = excluded.system_role,
			workplace_role = excluded.workplace_role,
			assigned_roles = excluded.assigned_roles,
			direct_permissions = excluded.direct_permissions,
			denied_permissions = excluded.denied_permissions,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		u.ID, string(u.SystemRole), string(u.WorkplaceRole), encoded[0], encoded[1], encoded[2],
		u.Active, u.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}
