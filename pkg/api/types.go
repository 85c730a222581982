package api

import (
	"time"

	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/pharmacare/permengine/pkg/rbac"
)

// CheckRequest asks whether a user may perform one action
type CheckRequest struct {
	UserID string `json:"user_id"`
	Action string `json:"action"`
}

// PutUserRequest carries the permission-relevant fields of an account
type PutUserRequest struct {
	SystemRole        catalog.SystemRole    `json:"system_role"`
	WorkplaceRole     catalog.WorkplaceRole `json:"workplace_role,omitempty"`
	DirectPermissions []string              `json:"direct_permissions,omitempty"`
	DeniedPermissions []string              `json:"denied_permissions,omitempty"`
	Active            *bool                 `json:"active,omitempty"`
}

// SetPermissionsRequest replaces a user's direct grants and denials
type SetPermissionsRequest struct {
	Direct []string `json:"direct"`
	Denied []string `json:"denied"`
}

// AssignRoleRequest assigns one role to the user in the path
type AssignRoleRequest struct {
	RoleID      string     `json:"role_id"`
	WorkspaceID *string    `json:"workspace_id,omitempty"`
	Temporary   bool       `json:"temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Replace     bool       `json:"replace"`
}

// Bulk operations
const (
	BulkAssign = "assign"
	BulkRevoke = "revoke"
)

// BulkAssignmentRequest assigns or revokes one role for many users
type BulkAssignmentRequest struct {
	Operation   string     `json:"operation"`
	UserIDs     []string   `json:"user_ids"`
	RoleID      string     `json:"role_id"`
	WorkspaceID *string    `json:"workspace_id,omitempty"`
	Temporary   bool       `json:"temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// BulkItem is the outcome for one user of a bulk operation
type BulkItem struct {
	UserID     string           `json:"user_id"`
	Assignment *rbac.Assignment `json:"assignment,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// BulkAssignmentResponse reports per-user outcomes
type BulkAssignmentResponse struct {
	Operation string     `json:"operation"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Results   []BulkItem `json:"results"`
}

// ReparentRequest moves a role under another one; a null parent makes it a root
type ReparentRequest struct {
	ParentID *string `json:"parent_id"`
}

// PathRole is one step of an inheritance path
type PathRole struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Level  int    `json:"level"`
	Active bool   `json:"active"`
}

// EffectivePermissionsResponse explains where each permission of a role comes from
type EffectivePermissionsResponse struct {
	RoleID          string            `json:"role_id"`
	Permissions     []string          `json:"permissions"`
	Origins         map[string]string `json:"origins"`
	InheritancePath []PathRole        `json:"inheritance_path"`
}

// InvalidateResponse lists the users whose cached state was dropped
type InvalidateResponse struct {
	WorkspaceID      string   `json:"workspace_id"`
	InvalidatedUsers []string `json:"invalidated_users"`
}
