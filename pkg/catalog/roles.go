package catalog

import (
	"fmt"
	"strings"
)

// SystemRole is the single primary role stored on a user record
type SystemRole string

const (
	SystemRoleSuperAdmin       SystemRole = "super_admin"
	SystemRoleOwner            SystemRole = "owner"
	SystemRolePharmacyOutlet   SystemRole = "pharmacy_outlet"
	SystemRolePharmacyTeam     SystemRole = "pharmacy_team"
	SystemRolePharmacist       SystemRole = "pharmacist"
	SystemRoleInternPharmacist SystemRole = "intern_pharmacist"
)

// Higher level = higher privilege
var systemRoleLevels = map[SystemRole]int{
	SystemRoleInternPharmacist: 1,
	SystemRolePharmacist:       2,
	SystemRolePharmacyTeam:     3,
	SystemRolePharmacyOutlet:   4,
	SystemRoleOwner:            5,
	SystemRoleSuperAdmin:       6,
}

// Level returns the hierarchy level of the role, or 0 if unknown
func (r SystemRole) Level() int {
	return systemRoleLevels[r]
}

// Valid reports whether the role is known
func (r SystemRole) Valid() bool {
	return r.Level() > 0
}

// ParseSystemRole parses a system role name
func ParseSystemRole(s string) (SystemRole, error) {
	r := SystemRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown system role %q", s)
	}
	return r, nil
}

// WorkplaceRole is the role a user holds inside their workspace
type WorkplaceRole string

const (
	WorkplaceRoleOwner      WorkplaceRole = "Owner"
	WorkplaceRolePharmacist WorkplaceRole = "Pharmacist"
	WorkplaceRoleTechnician WorkplaceRole = "Technician"
	WorkplaceRoleStaff      WorkplaceRole = "Staff"
	WorkplaceRoleAssistant  WorkplaceRole = "Assistant"
	WorkplaceRoleCashier    WorkplaceRole = "Cashier"
)

var workplaceRoleLevels = map[WorkplaceRole]int{
	WorkplaceRoleCashier:    1,
	WorkplaceRoleAssistant:  2,
	WorkplaceRoleStaff:      3,
	WorkplaceRoleTechnician: 4,
	WorkplaceRolePharmacist: 5,
	WorkplaceRoleOwner:      6,
}

// Level returns the hierarchy level of the role, or 0 if unknown
func (r WorkplaceRole) Level() int {
	return workplaceRoleLevels[r]
}

// Valid reports whether the role is known
func (r WorkplaceRole) Valid() bool {
	return r.Level() > 0
}

// ParseWorkplaceRole parses a workplace role name, case-insensitively
func ParseWorkplaceRole(s string) (WorkplaceRole, error) {
	s = strings.TrimSpace(s)
	for r := range workplaceRoleLevels {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown workplace role %q", s)
}

// SatisfiesSystemRole reports whether have meets a requirement listing allowed.
// A role satisfies the requirement when it ranks at or above the lowest-ranked
// allowed role.
func SatisfiesSystemRole(have SystemRole, allowed []SystemRole) bool {
	if !have.Valid() {
		return false
	}
	min := 0
	for _, r := range allowed {
		if l := r.Level(); l > 0 && (min == 0 || l < min) {
			min = l
		}
	}
	return min > 0 && have.Level() >= min
}

// SatisfiesWorkplaceRole is the workplace role counterpart of SatisfiesSystemRole
func SatisfiesWorkplaceRole(have WorkplaceRole, allowed []WorkplaceRole) bool {
	if !have.Valid() {
		return false
	}
	min := 0
	for _, r := range allowed {
		if l := r.Level(); l > 0 && (min == 0 || l < min) {
			min = l
		}
	}
	return min > 0 && have.Level() >= min
}
