package users

import (
	"sort"
	"time"

	"github.com/pharmacare/permengine/pkg/catalog"
)

// User carries the permission-relevant fields of an account
type User struct {
	ID            string                `json:"id"`
	SystemRole    catalog.SystemRole    `json:"system_role"`
	WorkplaceRole catalog.WorkplaceRole `json:"workplace_role,omitempty"`
	// AssignedRoles mirrors the assignment store and is rebuilt from it
	AssignedRoles     []string  `json:"assigned_roles"`
	DirectPermissions []string  `json:"direct_permissions"`
	DeniedPermissions []string  `json:"denied_permissions"`
	Active            bool      `json:"active"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsSuperAdmin reports whether the user holds the top system role
func (u *User) IsSuperAdmin() bool {
	return u.SystemRole == catalog.SystemRoleSuperAdmin
}

// HasDirect reports whether action is granted directly
func (u *User) HasDirect(action string) bool {
	return contains(u.DirectPermissions, action)
}

// IsDenied reports whether action is on the user's deny list
func (u *User) IsDenied(action string) bool {
	return contains(u.DeniedPermissions, action)
}

// Clone returns a deep copy
func (u User) Clone() User {
	c := u
	c.AssignedRoles = append([]string(nil), u.AssignedRoles...)
	c.DirectPermissions = append([]string(nil), u.DirectPermissions...)
	c.DeniedPermissions = append([]string(nil), u.DeniedPermissions...)
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// normalize dedupes and sorts a permission list
func normalize(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

func remove(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
