package workspace

import (
	"time"

	"github.com/pharmacare/permengine/pkg/billing"
)

// Workspace is a pharmacy tenant
type Workspace struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	OwnerID     string     `json:"owner_id"`
	PlanID      string     `json:"plan_id,omitempty"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Context is the tenant state a permission check runs against. A Context
// with a nil Workspace means the user has no workspace access.
type Context struct {
	Workspace            *Workspace            `json:"workspace"`
	Subscription         *billing.Subscription `json:"subscription"`
	Plan                 *billing.Plan         `json:"plan"`
	Permissions          []string              `json:"permissions"`
	Limits               billing.PlanLimits    `json:"limits"`
	IsTrialExpired       bool                  `json:"is_trial_expired"`
	IsSubscriptionActive bool                  `json:"is_subscription_active"`
	LoadedAt             time.Time             `json:"loaded_at"`
}

// Empty returns the context used when no workspace could be found or loaded
func Empty(now time.Time) *Context {
	return &Context{LoadedAt: now}
}

// HasWorkspace reports whether the context carries a workspace
func (c *Context) HasWorkspace() bool {
	return c != nil && c.Workspace != nil
}

// WorkspaceID returns the workspace ID or nil
func (c *Context) WorkspaceID() *string {
	if !c.HasWorkspace() {
		return nil
	}
	id := c.Workspace.ID
	return &id
}

// InTrial reports whether the tenant is in a trial that has not ended
func (c *Context) InTrial() bool {
	return c != nil && c.Subscription != nil &&
		c.Subscription.Status == billing.SubscriptionStatusTrial && !c.IsTrialExpired
}

// Tier returns the effective plan tier, or "" when no plan is known
func (c *Context) Tier() billing.PlanTier {
	if c == nil || c.Plan == nil {
		return ""
	}
	return c.Plan.Tier
}

// HasFeature reports whether the plan's feature list contains feature
func (c *Context) HasFeature(feature string) bool {
	if c == nil {
		return false
	}
	for _, f := range c.Permissions {
		if f == feature {
			return true
		}
	}
	return false
}

// build derives the computed fields from workspace, subscription and plan
func build(ws *Workspace, sub *billing.Subscription, plan *billing.Plan, now time.Time) *Context {
	c := &Context{
		Workspace:    ws,
		Subscription: sub,
		Plan:         plan,
		LoadedAt:     now,
	}
	if plan != nil {
		c.Permissions = plan.FeatureList()
		c.Limits = plan.Limits
	}

	if ws != nil && ws.TrialEndsAt != nil && now.After(*ws.TrialEndsAt) {
		c.IsTrialExpired = true
	}
	if sub.TrialExpired(now) {
		c.IsTrialExpired = true
	}

	if sub != nil {
		switch sub.Status {
		case billing.SubscriptionStatusActive:
			c.IsSubscriptionActive = true
		case billing.SubscriptionStatusTrial:
			c.IsSubscriptionActive = !c.IsTrialExpired
		}
	}
	return c
}
