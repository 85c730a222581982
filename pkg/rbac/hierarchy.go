package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/sirupsen/logrus"
)

// RoleListener is called synchronously after a role mutation is persisted
type RoleListener func(ctx context.Context, roleID string)

// HierarchyConfig configures a HierarchyStore
type HierarchyConfig struct {
	// Catalog, when set, rejects role permissions that are not known actions
	Catalog *catalog.Catalog
	Clock   func() time.Time
	Logger  *logrus.Logger
}

// HierarchyStore owns the role graph. Reads are served from memory; every
// mutation is persisted through the repository before memory changes.
// Role mutations are serialized so cycle checks see a stable graph.
type HierarchyStore struct {
	repo    RoleRepository
	catalog *catalog.Catalog
	now     func() time.Time
	log     *logrus.Logger

	mu       sync.RWMutex
	roles    map[string]*Role
	byName   map[string]string
	children map[string]map[string]struct{}
	// role id -> permission -> id of the nearest role declaring it
	origins sync.Map

	listenerMu sync.RWMutex
	listeners  []RoleListener
}

// NewHierarchyStore creates an empty store. Call Load to hydrate it.
func NewHierarchyStore(repo RoleRepository, cfg HierarchyConfig) *HierarchyStore {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &HierarchyStore{
		repo:     repo,
		catalog:  cfg.Catalog,
		now:      cfg.Clock,
		log:      cfg.Logger,
		roles:    make(map[string]*Role),
		byName:   make(map[string]string),
		children: make(map[string]map[string]struct{}),
	}
}

// Load replaces the in-memory graph with the repository contents. Cycles in
// stored data are not rejected here; reads through them fail instead.
func (s *HierarchyStore) Load(ctx context.Context) error {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles = make(map[string]*Role, len(roles))
	s.byName = make(map[string]string, len(roles))
	s.children = make(map[string]map[string]struct{})
	for i := range roles {
		r := roles[i].clone()
		s.roles[r.ID] = &r
		s.byName[r.Name] = r.ID
		if r.ParentID != nil {
			s.addChildLocked(*r.ParentID, r.ID)
		}
	}
	for id := range s.roles {
		s.roles[id].Level = s.levelLocked(id)
	}
	s.origins.Clear()

	s.log.WithField("roles", len(roles)).Info("role hierarchy loaded")
	return nil
}

// OnChange registers a listener for role mutations
func (s *HierarchyStore) OnChange(l RoleListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *HierarchyStore) notify(ctx context.Context, roleID string) {
	s.listenerMu.RLock()
	listeners := append([]RoleListener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ctx, roleID)
	}
}

// GetRole returns a role by ID, active or not
func (s *HierarchyStore) GetRole(id string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return r.clone(), nil
}

// GetRoleByName returns a role by its unique name
func (s *HierarchyStore) GetRoleByName(name string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return s.roles[id].clone(), nil
}

// ListRoles returns every role ordered by level, then name
func (s *HierarchyStore) ListRoles() []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// EffectivePermissions returns the role's own permissions plus everything
// inherited from its ancestors. Inactive roles on the chain contribute
// nothing, but their ancestors still do.
func (s *HierarchyStore) EffectivePermissions(id string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	origins, err := s.originsLocked(id)
	if err != nil {
		return nil, err
	}
	perms := make(map[string]struct{}, len(origins))
	for p := range origins {
		perms[p] = struct{}{}
	}
	return perms, nil
}

// PermissionOrigins maps each effective permission to the nearest role on
// the inheritance path that declares it
func (s *HierarchyStore) PermissionOrigins(id string) (map[string]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	origins, err := s.originsLocked(id)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Role, len(origins))
	for p, roleID := range origins {
		out[p] = s.roles[roleID].clone()
	}
	return out, nil
}

// InheritancePath returns the role followed by its ancestors up to the root
func (s *HierarchyStore) InheritancePath(id string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, err := s.chainLocked(id)
	if err != nil {
		return nil, err
	}
	out := make([]Role, len(chain))
	for i, r := range chain {
		out[i] = r.clone()
	}
	return out, nil
}

// chainLocked walks from id to the root. A parent that no longer exists ends
// the chain. A role seen twice means the stored graph has a cycle.
func (s *HierarchyStore) chainLocked(id string) ([]*Role, error) {
	cur, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}

	visited := make(map[string]struct{})
	var chain []*Role
	for {
		if _, seen := visited[cur.ID]; seen {
			return nil, fmt.Errorf("%w: role %s appears twice in its own ancestry", ErrCyclicHierarchy, cur.Name)
		}
		visited[cur.ID] = struct{}{}
		chain = append(chain, cur)

		if cur.ParentID == nil {
			return chain, nil
		}
		parent, ok := s.roles[*cur.ParentID]
		if !ok {
			return chain, nil
		}
		cur = parent
	}
}

// originsLocked is memoised per role. The memo is written while the read
// lock is held, so a mutation (which takes the write lock and clears the
// memo for the affected subtree) cannot interleave with it.
func (s *HierarchyStore) originsLocked(id string) (map[string]string, error) {
	if memo, ok := s.origins.Load(id); ok {
		return memo.(map[string]string), nil
	}

	chain, err := s.chainLocked(id)
	if err != nil {
		return nil, err
	}
	origins := make(map[string]string)
	for _, r := range chain {
		if !r.Active {
			continue
		}
		for _, p := range r.Permissions {
			if _, ok := origins[p]; !ok {
				origins[p] = r.ID
			}
		}
	}
	s.origins.Store(id, origins)
	return origins, nil
}

func (s *HierarchyStore) levelLocked(id string) int {
	chain, err := s.chainLocked(id)
	if err != nil {
		return 0
	}
	return len(chain) - 1
}

func (s *HierarchyStore) addChildLocked(parentID, childID string) {
	set, ok := s.children[parentID]
	if !ok {
		set = make(map[string]struct{})
		s.children[parentID] = set
	}
	set[childID] = struct{}{}
}

func (s *HierarchyStore) removeChildLocked(parentID, childID string) {
	if set, ok := s.children[parentID]; ok {
		delete(set, childID)
		if len(set) == 0 {
			delete(s.children, parentID)
		}
	}
}

// subtreeLocked returns id and all of its descendants
func (s *HierarchyStore) subtreeLocked(id string) []string {
	visited := map[string]struct{}{id: {}}
	queue := []string{id}
	out := []string{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		for child := range s.children[cur] {
			if _, seen := visited[child]; !seen {
				visited[child] = struct{}{}
				queue = append(queue, child)
			}
		}
	}
	return out
}

// refreshSubtreeLocked recomputes levels and drops memoised origins for id
// and everything below it
func (s *HierarchyStore) refreshSubtreeLocked(id string) {
	for _, d := range s.subtreeLocked(id) {
		if r, ok := s.roles[d]; ok {
			r.Level = s.levelLocked(d)
		}
		s.origins.Delete(d)
	}
}

func (s *HierarchyStore) validatePermissions(perms []string) ([]string, error) {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty permission", ErrInvalidRole)
		}
		if s.catalog != nil && !s.catalog.Has(p) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// checkParentLocked verifies that making parentID the parent of childID
// keeps the graph acyclic. childID is empty for a new role.
func (s *HierarchyStore) checkParentLocked(childID string, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if *parentID == childID {
		return fmt.Errorf("%w: role cannot be its own parent", ErrCyclicHierarchy)
	}
	if _, ok := s.roles[*parentID]; !ok {
		return fmt.Errorf("%w: parent %s", ErrRoleNotFound, *parentID)
	}
	chain, err := s.chainLocked(*parentID)
	if err != nil {
		return err
	}
	for _, r := range chain {
		if r.ID == childID {
			return fmt.Errorf("%w: %s is an ancestor of %s", ErrCyclicHierarchy, s.roles[childID].Name, s.roles[*parentID].Name)
		}
	}
	return nil
}

// CreateRole adds a role, optionally under an existing parent
func (s *HierarchyStore) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	perms, err := s.validatePermissions(in.Permissions)
	if err != nil {
		return Role{}, err
	}
	displayName := in.DisplayName
	if displayName == "" {
		displayName = name
	}

	s.mu.Lock()
	if _, exists := s.byName[name]; exists {
		s.mu.Unlock()
		return Role{}, fmt.Errorf("%w: %s", ErrDuplicateRole, name)
	}
	if err := s.checkParentLocked("", in.ParentID); err != nil {
		s.mu.Unlock()
		return Role{}, err
	}

	now := s.now()
	role := &Role{
		ID:          uuid.NewString(),
		Name:        name,
		DisplayName: displayName,
		Description: in.Description,
		Category:    in.Category,
		Permissions: perms,
		ParentID:    in.ParentID,
		Active:      true,
		BuiltIn:     in.BuiltIn,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   in.Actor,
	}
	if err := s.repo.CreateRole(ctx, role); err != nil {
		s.mu.Unlock()
		return Role{}, fmt.Errorf("failed to persist role: %w", err)
	}

	stored := role.clone()
	s.roles[stored.ID] = &stored
	s.byName[stored.Name] = stored.ID
	if stored.ParentID != nil {
		s.addChildLocked(*stored.ParentID, stored.ID)
	}
	s.refreshSubtreeLocked(stored.ID)
	out := stored.clone()
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"role_id": out.ID, "role": out.Name, "actor": in.Actor}).Info("role created")
	s.notify(ctx, out.ID)
	return out, nil
}

// mutate applies fn to a copy of the role, persists it and swaps it in
func (s *HierarchyStore) mutate(ctx context.Context, id string, fn func(r *Role) (changed bool, err error)) (Role, bool, error) {
	s.mu.Lock()
	cur, ok := s.roles[id]
	if !ok {
		s.mu.Unlock()
		return Role{}, false, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}

	next := cur.clone()
	changed, err := fn(&next)
	if err != nil {
		s.mu.Unlock()
		return Role{}, false, err
	}
	if !changed {
		out := cur.clone()
		s.mu.Unlock()
		return out, false, nil
	}
	next.UpdatedAt = s.now()

	if err := s.repo.UpdateRole(ctx, &next); err != nil {
		s.mu.Unlock()
		return Role{}, false, fmt.Errorf("failed to persist role: %w", err)
	}

	if !sameScope(cur.ParentID, next.ParentID) {
		if cur.ParentID != nil {
			s.removeChildLocked(*cur.ParentID, id)
		}
		if next.ParentID != nil {
			s.addChildLocked(*next.ParentID, id)
		}
	}
	s.roles[id] = &next
	s.refreshSubtreeLocked(id)
	out := next.clone()
	s.mu.Unlock()

	s.notify(ctx, id)
	return out, true, nil
}

// UpdateRole changes a role's descriptive fields or permission list
func (s *HierarchyStore) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	var perms []string
	if upd.Permissions != nil {
		validated, err := s.validatePermissions(*upd.Permissions)
		if err != nil {
			return Role{}, err
		}
		perms = validated
	}

	role, changed, err := s.mutate(ctx, id, func(r *Role) (bool, error) {
		if upd.DisplayName != nil {
			r.DisplayName = *upd.DisplayName
		}
		if upd.Description != nil {
			r.Description = *upd.Description
		}
		if upd.Category != nil {
			r.Category = *upd.Category
		}
		if upd.Permissions != nil {
			r.Permissions = perms
		}
		return true, nil
	})
	if err == nil && changed {
		s.log.WithField("role_id", id).Info("role updated")
	}
	return role, err
}

// DeactivateRole stops a role from granting permissions. Assignments and
// children keep referring to it.
func (s *HierarchyStore) DeactivateRole(ctx context.Context, id string) (Role, error) {
	return s.setActive(ctx, id, false)
}

// ActivateRole re-enables a deactivated role
func (s *HierarchyStore) ActivateRole(ctx context.Context, id string) (Role, error) {
	return s.setActive(ctx, id, true)
}

func (s *HierarchyStore) setActive(ctx context.Context, id string, active bool) (Role, error) {
	role, changed, err := s.mutate(ctx, id, func(r *Role) (bool, error) {
		if r.Active == active {
			return false, nil
		}
		r.Active = active
		return true, nil
	})
	if err == nil && changed {
		s.log.WithFields(logrus.Fields{"role_id": id, "active": active}).Info("role activation changed")
	}
	return role, err
}

// Reparent moves a role under a new parent, or to the root when parentID is
// nil. A move that would make the role its own ancestor is rejected.
func (s *HierarchyStore) Reparent(ctx context.Context, id string, parentID *string) (Role, error) {
	role, changed, err := s.mutate(ctx, id, func(r *Role) (bool, error) {
		if sameScope(r.ParentID, parentID) {
			return false, nil
		}
		if err := s.checkParentLocked(id, parentID); err != nil {
			return false, err
		}
		if parentID == nil {
			r.ParentID = nil
		} else {
			p := *parentID
			r.ParentID = &p
		}
		return true, nil
	})
	if err == nil && changed {
		s.log.WithField("role_id", id).Info("role reparented")
	}
	return role, err
}

// SeedBuiltInRoles creates any built-in role missing by name and returns how
// many were created
func (s *HierarchyStore) SeedBuiltInRoles(ctx context.Context, actor string) (int, error) {
	created := 0
	for _, b := range BuiltInRoles() {
		if _, err := s.GetRoleByName(b.Name); err == nil {
			continue
		}

		in := RoleInput{
			Name:        b.Name,
			DisplayName: b.DisplayName,
			Description: b.Description,
			Category:    b.Category,
			Permissions: b.Permissions,
			BuiltIn:     true,
			Actor:       actor,
		}
		if b.Parent != "" {
			parent, err := s.GetRoleByName(b.Parent)
			if err != nil {
				return created, fmt.Errorf("failed to seed %s: %w", b.Name, err)
			}
			in.ParentID = &parent.ID
		}
		if _, err := s.CreateRole(ctx, in); err != nil {
			return created, fmt.Errorf("failed to seed %s: %w", b.Name, err)
		}
		created++
	}
	return created, nil
}
