package rbac

import (
	"time"
)

// Role is a named permission bundle. ParentID is a weak reference to the
// role it inherits from; the parent may be inactive.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Permissions []string  `json:"permissions"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Active      bool      `json:"active"`
	BuiltIn     bool      `json:"built_in"`
	Level       int       `json:"level"` // distance from the root, derived
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// HasPermission reports whether the role itself declares action
func (r *Role) HasPermission(action string) bool {
	for _, p := range r.Permissions {
		if p == action {
			return true
		}
	}
	return false
}

func (r Role) clone() Role {
	c := r
	c.Permissions = append([]string(nil), r.Permissions...)
	if r.ParentID != nil {
		p := *r.ParentID
		c.ParentID = &p
	}
	return c
}

// RoleInput describes a role to create
type RoleInput struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Permissions []string `json:"permissions"`
	ParentID    *string  `json:"parent_id,omitempty"`
	BuiltIn     bool     `json:"-"`
	Actor       string   `json:"-"`
}

// RoleUpdate holds the mutable fields of a role. Nil fields are left unchanged.
type RoleUpdate struct {
	DisplayName *string   `json:"display_name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Permissions *[]string `json:"permissions,omitempty"`
}

// Assignment binds a role to a user, globally or inside one workspace.
// Assignments are never deleted; revocation keeps the row for audit.
type Assignment struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	RoleID           string     `json:"role_id"`
	WorkspaceID      *string    `json:"workspace_id,omitempty"` // nil = global
	Temporary        bool       `json:"temporary"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	AssignedBy       string     `json:"assigned_by"`
	AssignedAt       time.Time  `json:"assigned_at"`
	Active           bool       `json:"active"`
	RevokedBy        string     `json:"revoked_by,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

// Expired reports whether the assignment's expiry has passed at now
func (a *Assignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Effective reports whether the assignment grants its role at now
func (a *Assignment) Effective(now time.Time) bool {
	return a.Active && !a.Expired(now)
}

// InScope reports whether the assignment applies to workspaceID. Global
// assignments apply everywhere; a nil workspace matches only global ones.
func (a *Assignment) InScope(workspaceID *string) bool {
	if a.WorkspaceID == nil {
		return true
	}
	return workspaceID != nil && *a.WorkspaceID == *workspaceID
}

// sameScope reports whether two scopes are identical
func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AssignOptions controls Assign
type AssignOptions struct {
	WorkspaceID *string    `json:"workspace_id,omitempty"`
	Temporary   bool       `json:"temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Actor       string     `json:"-"`
	// Replace revokes every active assignment of the user in the same scope
	// and inserts the new one atomically
	Replace bool `json:"replace"`
}

// RevokeOptions controls Revoke
type RevokeOptions struct {
	WorkspaceID *string `json:"workspace_id,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Actor       string  `json:"-"`
}

// Revocation reasons recorded by the store itself
const (
	ReasonReplaced = "replaced"
	ReasonExpired  = "expired"
	SystemActor    = "system"
)

// ChangeSet is one atomic assignment write: rows to mark revoked and rows to insert
type ChangeSet struct {
	Revoked  []Assignment
	Inserted []Assignment
}

// Empty reports whether the change set has nothing to write
func (c ChangeSet) Empty() bool {
	return len(c.Revoked) == 0 && len(c.Inserted) == 0
}

// BulkResult is the per-user outcome of a bulk operation
type BulkResult struct {
	UserID     string      `json:"user_id"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Err        error       `json:"-"`
}

// BuiltInRole is a role seeded at first start. Parent refers to another
// built-in role by name.
type BuiltInRole struct {
	Name        string
	DisplayName string
	Description string
	Category    string
	Parent      string
	Permissions []string
}

// Built-in role names
const (
	RolePharmacyAssistant  = "pharmacy_assistant"
	RolePharmacyTechnician = "pharmacy_technician"
	RolePharmacist         = "pharmacist"
	RoleSeniorPharmacist   = "senior_pharmacist"
	RolePharmacyManager    = "pharmacy_manager"
	RoleCashier            = "cashier"
	RoleAuditor            = "auditor"
)

// BuiltInRoles returns the seeded pharmacy roles, parents before children
func BuiltInRoles() []BuiltInRole {
	return []BuiltInRole{
		{
			Name:        RolePharmacyAssistant,
			DisplayName: "Pharmacy Assistant",
			Description: "Front counter access to patients and medications",
			Category:    "workplace",
			Permissions: []string{"dashboard.view", "patient.read", "medication.read"},
		},
		{
			Name:        RolePharmacyTechnician,
			DisplayName: "Pharmacy Technician",
			Description: "Dispensary work on patient and medication records",
			Category:    "workplace",
			Parent:      RolePharmacyAssistant,
			Permissions: []string{
				"patient.create", "patient.update",
				"medication.create", "medication.update",
				"clinical_note.read", "intervention.read", "mtr.read", "adr.read",
			},
		},
		{
			Name:        RolePharmacist,
			DisplayName: "Pharmacist",
			Description: "Clinical documentation and reviews",
			Category:    "clinical",
			Parent:      RolePharmacyTechnician,
			Permissions: []string{
				"clinical_note.create", "clinical_note.update",
				"intervention.create", "intervention.update",
				"mtr.create", "mtr.update",
				"adr.create", "report.view",
			},
		},
		{
			Name:        RoleSeniorPharmacist,
			DisplayName: "Senior Pharmacist",
			Description: "Diagnostics and advanced reporting",
			Category:    "clinical",
			Parent:      RolePharmacist,
			Permissions: []string{"diagnostic.analyze", "diagnostic.read", "report.advanced", "patient.delete"},
		},
		{
			Name:        RolePharmacyManager,
			DisplayName: "Pharmacy Manager",
			Description: "Runs the pharmacy team and settings",
			Category:    "management",
			Parent:      RoleSeniorPharmacist,
			Permissions: []string{
				"team.invite", "team.manage", "report.export",
				"workspace.settings", "subscription.view", "billing.view",
			},
		},
		{
			Name:        RoleCashier,
			DisplayName: "Cashier",
			Description: "Point of sale",
			Category:    "workplace",
			Permissions: []string{"dashboard.view", "medication.read"},
		},
		{
			Name:        RoleAuditor,
			DisplayName: "Auditor",
			Description: "Read-only compliance access",
			Category:    "compliance",
			Permissions: []string{"audit.view", "audit.export", "report.view"},
		},
	}
}
