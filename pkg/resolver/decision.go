package resolver

import (
	"strings"
	"time"
)

// SourceKind classifies what granted or denied an action
type SourceKind string

const (
	SourceDirect    SourceKind = "direct"
	SourceRole      SourceKind = "role"
	SourceInherited SourceKind = "inherited"
	SourceLegacy    SourceKind = "legacy"
	SourceDenied    SourceKind = "denied"
)

// source renders kind[:detail]
func source(kind SourceKind, detail string) string {
	if detail == "" {
		return string(kind)
	}
	return string(kind) + ":" + detail
}

// KindOf extracts the kind from a rendered source
func KindOf(src string) SourceKind {
	kind, _, _ := strings.Cut(src, ":")
	return SourceKind(kind)
}

// Deny reasons
const (
	ReasonDenied               = "explicitly_denied"
	ReasonUnknownAction        = "unknown_action"
	ReasonUserInactive         = "user_inactive"
	ReasonNotGranted           = "not_granted"
	ReasonFeatureRequired      = "feature_required"
	ReasonTierRequired         = "plan_tier_required"
	ReasonSubscriptionInactive = "subscription_inactive"
)

// Decision is the explainable outcome of one check. Source names the rule
// that granted the action, and is kept when a gate then blocks it.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Action      string `json:"action"`
	Source      string `json:"source,omitempty"`
	Reason      string `json:"reason,omitempty"`
	TrialAccess bool   `json:"trial_access,omitempty"`
	Cached      bool   `json:"cached"`
	// ValidUntil is set when the decision read a temporary assignment and
	// holds the earliest expiry among them
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// Result is the full permission picture of a user in a workspace
type Result struct {
	UserID      string  `json:"user_id"`
	WorkspaceID *string `json:"workspace_id,omitempty"`
	// Effective lists the allowed actions, sorted
	Effective []string `json:"effective"`
	// Denied lists the user's explicit denials, sorted
	Denied []string `json:"denied"`
	// Sources maps each effective or denied action to its source
	Sources map[string]string `json:"sources"`
	// Blocked maps actions that were granted but failed a gate to the reason
	Blocked map[string]string `json:"blocked,omitempty"`
}

// Has reports whether action is effective
func (r *Result) Has(action string) bool {
	_, ok := r.Sources[action]
	return ok && KindOf(r.Sources[action]) != SourceDenied
}
