package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// RoleRepository persists roles. Roles are never hard-deleted.
type RoleRepository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
}

// AssignmentRepository persists role assignments
type AssignmentRepository interface {
	ListAssignments(ctx context.Context) ([]Assignment, error)
	// Apply writes a change set in a single transaction
	Apply(ctx context.Context, changes ChangeSet) error
}

// MemoryRoleRepository keeps roles in process memory
type MemoryRoleRepository struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewMemoryRoleRepository creates an empty in-memory role repository
func NewMemoryRoleRepository() *MemoryRoleRepository {
	return &MemoryRoleRepository{roles: make(map[string]Role)}
}

func (r *MemoryRoleRepository) ListRoles(_ context.Context) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRoleRepository) CreateRole(_ context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roles[role.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRole, role.ID)
	}
	r.roles[role.ID] = role.clone()
	return nil
}

func (r *MemoryRoleRepository) UpdateRole(_ context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.roles[role.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, role.ID)
	}
	r.roles[role.ID] = role.clone()
	return nil
}

// MemoryAssignmentRepository keeps assignments in process memory
type MemoryAssignmentRepository struct {
	mu   sync.RWMutex
	rows map[string]Assignment
}

// NewMemoryAssignmentRepository creates an empty in-memory assignment repository
func NewMemoryAssignmentRepository() *MemoryAssignmentRepository {
	return &MemoryAssignmentRepository{rows: make(map[string]Assignment)}
}

func (r *MemoryAssignmentRepository) ListAssignments(_ context.Context) ([]Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Assignment, 0, len(r.rows))
	for _, a := range r.rows {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (r *MemoryAssignmentRepository) Apply(_ context.Context, changes ChangeSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the whole set before touching rows
	for _, a := range changes.Revoked {
		if _, ok := r.rows[a.ID]; !ok {
			return fmt.Errorf("%w: %s", ErrAssignmentNotFound, a.ID)
		}
	}
	for _, a := range changes.Inserted {
		if _, ok := r.rows[a.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateAssignment, a.ID)
		}
	}

	for _, a := range changes.Revoked {
		r.rows[a.ID] = a
	}
	for _, a := range changes.Inserted {
		r.rows[a.ID] = a
	}
	return nil
}
