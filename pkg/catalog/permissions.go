package catalog

import (
	"fmt"
	"sort"

	"github.com/pharmacare/permengine/pkg/billing"
)

// RiskLevel classifies how sensitive an action is
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the risk level is known
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Permission describes a known action
type Permission struct {
	Action       string            `json:"action" yaml:"action"`
	DisplayName  string            `json:"display_name" yaml:"display_name"`
	Category     string            `json:"category" yaml:"category"`
	Risk         RiskLevel         `json:"risk" yaml:"risk"`
	RequiredTier *billing.PlanTier `json:"required_tier,omitempty" yaml:"required_tier,omitempty"`
}

// Catalog is the read-only registry of known permissions
type Catalog struct {
	permissions map[string]Permission
	ordered     []string
}

// NewCatalog builds a catalog from the given permissions. Duplicate actions
// and invalid risk levels are rejected.
func NewCatalog(perms []Permission) (*Catalog, error) {
	c := &Catalog{permissions: make(map[string]Permission, len(perms))}
	for _, p := range perms {
		if p.Action == "" {
			return nil, fmt.Errorf("%w: permission with empty action", ErrInvalidMatrix)
		}
		if _, exists := c.permissions[p.Action]; exists {
			return nil, fmt.Errorf("%w: duplicate permission %s", ErrInvalidMatrix, p.Action)
		}
		if !p.Risk.Valid() {
			return nil, fmt.Errorf("%w: permission %s has unknown risk level %q", ErrInvalidMatrix, p.Action, p.Risk)
		}
		if p.RequiredTier != nil && !p.RequiredTier.Valid() {
			return nil, fmt.Errorf("%w: permission %s has unknown tier %q", ErrInvalidMatrix, p.Action, *p.RequiredTier)
		}
		c.permissions[p.Action] = p
		c.ordered = append(c.ordered, p.Action)
	}
	sort.Strings(c.ordered)
	return c, nil
}

// Get returns the permission for an action
func (c *Catalog) Get(action string) (Permission, error) {
	p, ok := c.permissions[action]
	if !ok {
		return Permission{}, fmt.Errorf("%w: %s", ErrPermissionNotFound, action)
	}
	return p, nil
}

// Has reports whether the action is known
func (c *Catalog) Has(action string) bool {
	_, ok := c.permissions[action]
	return ok
}

// List returns all permissions sorted by action
func (c *Catalog) List() []Permission {
	out := make([]Permission, 0, len(c.ordered))
	for _, a := range c.ordered {
		out = append(out, c.permissions[a])
	}
	return out
}

// ByCategory returns the permissions of a category sorted by action
func (c *Catalog) ByCategory(category string) []Permission {
	var out []Permission
	for _, a := range c.ordered {
		if p := c.permissions[a]; p.Category == category {
			out = append(out, p)
		}
	}
	return out
}
