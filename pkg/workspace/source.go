package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pharmacare/permengine/pkg/billing"
)

// Source is the upstream that owns workspaces, subscriptions and plans
type Source interface {
	// WorkspaceForUser returns the workspace the user owns or belongs to,
	// or nil when there is none
	WorkspaceForUser(ctx context.Context, userID string) (*Workspace, error)
	// SubscriptionFor returns the workspace's current subscription in a
	// loadable status, or nil
	SubscriptionFor(ctx context.Context, workspaceID string) (*billing.Subscription, error)
	Plan(ctx context.Context, planID string) (*billing.Plan, error)
	PlanByTier(ctx context.Context, tier billing.PlanTier) (*billing.Plan, error)
	// MemberIDs returns every user of the workspace, owner included
	MemberIDs(ctx context.Context, workspaceID string) ([]string, error)
}

// MemorySource is an in-process Source
type MemorySource struct {
	mu            sync.RWMutex
	workspaces    map[string]*Workspace
	members       map[string]map[string]struct{}
	memberships   map[string]string
	subscriptions map[string]*billing.Subscription
	plans         map[string]*billing.Plan
}

// NewMemorySource creates a source holding the default plans
func NewMemorySource() *MemorySource {
	s := &MemorySource{
		workspaces:    make(map[string]*Workspace),
		members:       make(map[string]map[string]struct{}),
		memberships:   make(map[string]string),
		subscriptions: make(map[string]*billing.Subscription),
		plans:         make(map[string]*billing.Plan),
	}
	for _, p := range billing.DefaultPlans() {
		s.plans[p.ID] = p
	}
	return s
}

// PutWorkspace stores a workspace and registers its owner as a member
func (s *MemorySource) PutWorkspace(ws Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = &ws
	s.addMemberLocked(ws.ID, ws.OwnerID)
}

// AddMember places a user in a workspace
func (s *MemorySource) AddMember(workspaceID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addMemberLocked(workspaceID, userID)
}

func (s *MemorySource) addMemberLocked(workspaceID, userID string) {
	if userID == "" {
		return
	}
	set, ok := s.members[workspaceID]
	if !ok {
		set = make(map[string]struct{})
		s.members[workspaceID] = set
	}
	set[userID] = struct{}{}
	s.memberships[userID] = workspaceID
}

// PutSubscription stores the subscription of a workspace
func (s *MemorySource) PutSubscription(sub billing.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.WorkspaceID] = &sub
}

// PutPlan stores a plan
func (s *MemorySource) PutPlan(p billing.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = &p
}

func (s *MemorySource) WorkspaceForUser(_ context.Context, userID string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.memberships[userID]
	if !ok {
		return nil, nil
	}
	stored, ok := s.workspaces[id]
	if !ok {
		return nil, nil
	}
	ws := *stored
	return &ws, nil
}

func (s *MemorySource) SubscriptionFor(_ context.Context, workspaceID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[workspaceID]
	if !ok || !sub.Status.Loadable() {
		return nil, nil
	}
	c := *sub
	return &c, nil
}

func (s *MemorySource) Plan(_ context.Context, planID string) (*billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s not found", planID)
	}
	c := *p
	return &c, nil
}

func (s *MemorySource) PlanByTier(_ context.Context, tier billing.PlanTier) (*billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Tier == tier && p.Active {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("no active plan for tier %s", tier)
}

func (s *MemorySource) MemberIDs(_ context.Context, workspaceID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.workspaces[workspaceID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, workspaceID)
	}
	out := make([]string, 0, len(s.members[workspaceID]))
	for id := range s.members[workspaceID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
