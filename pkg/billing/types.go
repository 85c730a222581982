package billing

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	TierFreeTrial  PlanTier = "free_trial"
	TierBasic      PlanTier = "basic"
	TierPro        PlanTier = "pro"
	TierPharmily   PlanTier = "pharmily"
	TierNetwork    PlanTier = "network"
	TierEnterprise PlanTier = "enterprise"
)

var tierRanks = map[PlanTier]int{
	TierFreeTrial:  0,
	TierBasic:      1,
	TierPro:        2,
	TierPharmily:   3,
	TierNetwork:    4,
	TierEnterprise: 5,
}

// Tiers returns all tiers in ascending order
func Tiers() []PlanTier {
	return []PlanTier{TierFreeTrial, TierBasic, TierPro, TierPharmily, TierNetwork, TierEnterprise}
}

// Rank returns the position of the tier in the ordering, or -1 for an unknown tier
func Rank(tier PlanTier) int {
	if r, ok := tierRanks[tier]; ok {
		return r
	}
	return -1
}

// Valid reports whether the tier is a known tier
func (t PlanTier) Valid() bool {
	return Rank(t) >= 0
}

// AtLeast reports whether have is at or above min. Unknown tiers never qualify.
func AtLeast(have, min PlanTier) bool {
	h, m := Rank(have), Rank(min)
	if h < 0 || m < 0 {
		return false
	}
	return h >= m
}

// Lowest returns the lowest known tier in the list
func Lowest(tiers []PlanTier) (PlanTier, bool) {
	var (
		lowest PlanTier
		found  bool
	)
	for _, t := range tiers {
		if !t.Valid() {
			continue
		}
		if !found || Rank(t) < Rank(lowest) {
			lowest = t
			found = true
		}
	}
	return lowest, found
}

// ParsePlanTier parses a tier name, case-insensitively
func ParsePlanTier(s string) (PlanTier, error) {
	t := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown plan tier %q", s)
	}
	return t, nil
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "trial"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Loadable reports whether a subscription in this status is considered by the
// workspace context loader
func (s SubscriptionStatus) Loadable() bool {
	switch s {
	case SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusExpired:
		return true
	}
	return false
}

// Subscription represents a workspace billing subscription
type Subscription struct {
	ID               string             `json:"id"`
	WorkspaceID      string             `json:"workspace_id"`
	PlanID           string             `json:"plan_id,omitempty"`
	Tier             PlanTier           `json:"tier,omitempty"`
	Status           SubscriptionStatus `json:"status"`
	TrialEndsAt      *time.Time         `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// TrialExpired reports whether the subscription's trial end has passed
func (s *Subscription) TrialExpired(now time.Time) bool {
	return s != nil && s.TrialEndsAt != nil && now.After(*s.TrialEndsAt)
}

// PlanLimits holds plan quotas. A nil limit means unlimited or unknown.
type PlanLimits struct {
	Patients         *int64 `json:"patients"`
	Users            *int64 `json:"users"`
	Locations        *int64 `json:"locations"`
	StorageMB        *int64 `json:"storage_mb"`
	APICallsPerMonth *int64 `json:"api_calls_per_month"`
}

// Plan represents a subscription plan
type Plan struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Tier     PlanTier        `json:"tier"`
	Features map[string]bool `json:"features,omitempty"`
	Limits   PlanLimits      `json:"limits"`
	Active   bool            `json:"active"`
}

// FeatureList returns the identifiers of all enabled features, sorted
func (p *Plan) FeatureList() []string {
	if p == nil {
		return nil
	}
	features := make([]string, 0, len(p.Features))
	for name, enabled := range p.Features {
		if enabled {
			features = append(features, name)
		}
	}
	sort.Strings(features)
	return features
}

// HasFeature reports whether the named feature flag is enabled
func (p *Plan) HasFeature(name string) bool {
	return p != nil && p.Features[name]
}
