package catalog

import (
	"fmt"
	"sort"

	"github.com/pharmacare/permengine/pkg/billing"
)

// Requirement is the static requirement set for one action. An empty category
// means no restriction of that kind.
type Requirement struct {
	SystemRoles                []SystemRole       `json:"system_roles,omitempty" yaml:"system_roles,omitempty"`
	WorkplaceRoles             []WorkplaceRole    `json:"workplace_roles,omitempty" yaml:"workplace_roles,omitempty"`
	Features                   []string           `json:"features,omitempty" yaml:"features,omitempty"`
	PlanTiers                  []billing.PlanTier `json:"plan_tiers,omitempty" yaml:"plan_tiers,omitempty"`
	RequiresActiveSubscription bool               `json:"requires_active_subscription" yaml:"requires_active_subscription"`
	AllowTrialAccess           bool               `json:"allow_trial_access" yaml:"allow_trial_access"`
}

// HasRoleConstraint reports whether the requirement restricts system or workplace roles
func (r Requirement) HasRoleConstraint() bool {
	return len(r.SystemRoles) > 0 || len(r.WorkplaceRoles) > 0
}

// MinimumTier returns the lowest tier in PlanTiers
func (r Requirement) MinimumTier() (billing.PlanTier, bool) {
	return billing.Lowest(r.PlanTiers)
}

// Validate checks every role, tier and feature name in the requirement
func (r Requirement) Validate() error {
	for _, sr := range r.SystemRoles {
		if !sr.Valid() {
			return fmt.Errorf("unknown system role %q", sr)
		}
	}
	for _, wr := range r.WorkplaceRoles {
		if !wr.Valid() {
			return fmt.Errorf("unknown workplace role %q", wr)
		}
	}
	for _, t := range r.PlanTiers {
		if !t.Valid() {
			return fmt.Errorf("unknown plan tier %q", t)
		}
	}
	for _, f := range r.Features {
		if f == "" {
			return fmt.Errorf("empty feature name")
		}
	}
	return nil
}

// Matrix maps actions to their requirements. It is built once and never
// mutated, so lookups need no locking.
type Matrix struct {
	requirements map[string]Requirement
}

// NewMatrix validates and builds a matrix
func NewMatrix(reqs map[string]Requirement) (*Matrix, error) {
	m := &Matrix{requirements: make(map[string]Requirement, len(reqs))}
	for action, req := range reqs {
		if action == "" {
			return nil, fmt.Errorf("%w: empty action", ErrInvalidMatrix)
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMatrix, action, err)
		}
		m.requirements[action] = req
	}
	return m, nil
}

// RequirementsFor returns the requirement for an action, or ErrActionNotFound
func (m *Matrix) RequirementsFor(action string) (Requirement, error) {
	req, ok := m.requirements[action]
	if !ok {
		return Requirement{}, fmt.Errorf("%w: %s", ErrActionNotFound, action)
	}
	return req, nil
}

// Has reports whether the action has an entry
func (m *Matrix) Has(action string) bool {
	_, ok := m.requirements[action]
	return ok
}

// Actions returns every action in the matrix, sorted
func (m *Matrix) Actions() []string {
	actions := make([]string, 0, len(m.requirements))
	for a := range m.requirements {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}

// Len returns the number of actions
func (m *Matrix) Len() int {
	return len(m.requirements)
}
