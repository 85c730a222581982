package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// AssignmentListener is called synchronously with the users whose
// assignments changed
type AssignmentListener func(ctx context.Context, userIDs []string)

// RoleLookup resolves role IDs for the assignment store
type RoleLookup interface {
	GetRole(id string) (Role, error)
}

// AssignmentConfig configures an AssignmentStore
type AssignmentConfig struct {
	Clock  func() time.Time
	Logger *logrus.Logger
	// BulkConcurrency bounds the users processed in parallel by bulk calls
	BulkConcurrency int
}

const defaultBulkConcurrency = 8

// AssignmentStore tracks which roles users hold, globally or per workspace.
// Writes for one user are serialized; writes for different users proceed in
// parallel. Memory only changes after the repository accepted the write.
type AssignmentStore struct {
	repo      AssignmentRepository
	roles     RoleLookup
	now       func() time.Time
	log       *logrus.Logger
	bulkLimit int

	mu     sync.RWMutex
	byUser map[string][]Assignment

	userLocks sync.Map

	listenerMu sync.RWMutex
	listeners  []AssignmentListener
}

// NewAssignmentStore creates an empty store. Call Load to hydrate it.
func NewAssignmentStore(repo AssignmentRepository, roles RoleLookup, cfg AssignmentConfig) *AssignmentStore {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaultBulkConcurrency
	}
	return &AssignmentStore{
		repo:      repo,
		roles:     roles,
		now:       cfg.Clock,
		log:       cfg.Logger,
		bulkLimit: cfg.BulkConcurrency,
		byUser:    make(map[string][]Assignment),
	}
}

// Load replaces the in-memory assignments with the repository contents
func (s *AssignmentStore) Load(ctx context.Context) error {
	rows, err := s.repo.ListAssignments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}

	byUser := make(map[string][]Assignment)
	for _, a := range rows {
		byUser[a.UserID] = append(byUser[a.UserID], a)
	}

	s.mu.Lock()
	s.byUser = byUser
	s.mu.Unlock()

	s.log.WithField("assignments", len(rows)).Info("role assignments loaded")
	return nil
}

// OnChange registers a listener for assignment mutations
func (s *AssignmentStore) OnChange(l AssignmentListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *AssignmentStore) notify(ctx context.Context, userIDs []string) {
	s.listenerMu.RLock()
	listeners := append([]AssignmentListener(nil), s.listeners...)
	s.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ctx, userIDs)
	}
}

func (s *AssignmentStore) userLock(userID string) *sync.Mutex {
	l, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *AssignmentStore) snapshot(userID string) []Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Assignment(nil), s.byUser[userID]...)
}

// commit applies a persisted change set to memory
func (s *AssignmentStore) commit(userID string, changes ChangeSet) {
	revoked := make(map[string]Assignment, len(changes.Revoked))
	for _, a := range changes.Revoked {
		revoked[a.ID] = a
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.byUser[userID]
	next := make([]Assignment, 0, len(cur)+len(changes.Inserted))
	for _, a := range cur {
		if r, ok := revoked[a.ID]; ok {
			a = r
		}
		next = append(next, a)
	}
	next = append(next, changes.Inserted...)
	s.byUser[userID] = next
}

func revokedCopy(a Assignment, now time.Time, actor, reason string) Assignment {
	t := now
	a.Active = false
	a.RevokedAt = &t
	a.RevokedBy = actor
	a.RevocationReason = reason
	return a
}

// Assign grants roleID to userID. With Replace set, every active assignment
// of the user in the same scope is revoked in the same transaction.
func (s *AssignmentStore) Assign(ctx context.Context, userID, roleID string, opts AssignOptions) (*Assignment, error) {
	a, err := s.assign(ctx, userID, roleID, opts)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, []string{userID})
	return a, nil
}

func (s *AssignmentStore) assign(ctx context.Context, userID, roleID string, opts AssignOptions) (*Assignment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidAssignment)
	}
	role, err := s.roles.GetRole(roleID)
	if err != nil {
		return nil, err
	}
	if !role.Active {
		return nil, fmt.Errorf("%w: %s is inactive", ErrRoleNotFound, role.Name)
	}

	now := s.now()
	if opts.Temporary && opts.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: temporary assignment requires an expiry", ErrInvalidExpiry)
	}
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidExpiry, opts.ExpiresAt.Format(time.RFC3339))
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var changes ChangeSet
	for _, a := range s.snapshot(userID) {
		if !a.Active || !sameScope(a.WorkspaceID, opts.WorkspaceID) {
			continue
		}
		switch {
		case opts.Replace:
			changes.Revoked = append(changes.Revoked, revokedCopy(a, now, opts.Actor, ReasonReplaced))
		case a.RoleID == roleID && a.Expired(now):
			changes.Revoked = append(changes.Revoked, revokedCopy(a, now, SystemActor, ReasonExpired))
		case a.RoleID == roleID:
			return nil, fmt.Errorf("%w: user %s already holds %s in this scope", ErrDuplicateAssignment, userID, role.Name)
		}
	}

	a := Assignment{
		ID:         uuid.NewString(),
		UserID:     userID,
		RoleID:     roleID,
		Temporary:  opts.Temporary,
		Reason:     opts.Reason,
		AssignedBy: opts.Actor,
		AssignedAt: now,
		Active:     true,
	}
	if opts.WorkspaceID != nil {
		ws := *opts.WorkspaceID
		a.WorkspaceID = &ws
	}
	if opts.ExpiresAt != nil {
		exp := *opts.ExpiresAt
		a.ExpiresAt = &exp
	}
	changes.Inserted = []Assignment{a}

	if err := s.repo.Apply(ctx, changes); err != nil {
		return nil, fmt.Errorf("failed to persist assignment: %w", err)
	}
	s.commit(userID, changes)

	s.log.WithFields(logrus.Fields{
		"user_id":  userID,
		"role_id":  roleID,
		"replaced": len(changes.Revoked),
		"actor":    opts.Actor,
	}).Info("role assigned")

	return &a, nil
}

// Revoke ends the user's active assignment of roleID in the given scope
func (s *AssignmentStore) Revoke(ctx context.Context, userID, roleID string, opts RevokeOptions) error {
	if err := s.revoke(ctx, userID, roleID, opts); err != nil {
		return err
	}
	s.notify(ctx, []string{userID})
	return nil
}

func (s *AssignmentStore) revoke(ctx context.Context, userID, roleID string, opts RevokeOptions) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	now := s.now()
	reason := opts.Reason
	if reason == "" {
		reason = "revoked"
	}

	var changes ChangeSet
	for _, a := range s.snapshot(userID) {
		if a.RoleID == roleID && a.Effective(now) && sameScope(a.WorkspaceID, opts.WorkspaceID) {
			changes.Revoked = append(changes.Revoked, revokedCopy(a, now, opts.Actor, reason))
		}
	}
	if changes.Empty() {
		return fmt.Errorf("%w: user %s role %s", ErrAssignmentNotFound, userID, roleID)
	}

	if err := s.repo.Apply(ctx, changes); err != nil {
		return fmt.Errorf("failed to persist revocation: %w", err)
	}
	s.commit(userID, changes)

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"role_id": roleID,
		"actor":   opts.Actor,
	}).Info("role revoked")
	return nil
}

// ActiveAssignmentsFor returns the user's effective assignments that apply
// to workspaceID. Expiry is evaluated against the store clock on every call.
func (s *AssignmentStore) ActiveAssignmentsFor(userID string, workspaceID *string) []Assignment {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Assignment
	for _, a := range s.byUser[userID] {
		if a.Effective(now) && a.InScope(workspaceID) {
			out = append(out, a)
		}
	}
	return out
}

// ActiveRolesFor returns the distinct role IDs the user holds in workspaceID,
// in assignment order
func (s *AssignmentStore) ActiveRolesFor(userID string, workspaceID *string) []string {
	return distinctRoles(s.ActiveAssignmentsFor(userID, workspaceID))
}

// AssignedRoleIDs returns every role the user currently holds in any scope
func (s *AssignmentStore) AssignedRoleIDs(userID string) []string {
	now := s.now()

	s.mu.RLock()
	var effective []Assignment
	for _, a := range s.byUser[userID] {
		if a.Effective(now) {
			effective = append(effective, a)
		}
	}
	s.mu.RUnlock()

	return distinctRoles(effective)
}

func distinctRoles(assignments []Assignment) []string {
	seen := make(map[string]struct{}, len(assignments))
	var out []string
	for _, a := range assignments {
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		out = append(out, a.RoleID)
	}
	return out
}

// History returns every assignment the user ever held, revoked ones included
func (s *AssignmentStore) History(userID string) []Assignment {
	out := s.snapshot(userID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out
}

// BulkAssign assigns roleID to each user independently. A failure for one
// user does not affect the others.
func (s *AssignmentStore) BulkAssign(ctx context.Context, userIDs []string, roleID string, opts AssignOptions) []BulkResult {
	return s.bulk(ctx, userIDs, func(userID string) (*Assignment, error) {
		return s.assign(ctx, userID, roleID, opts)
	})
}

// BulkRevoke revokes roleID from each user independently
func (s *AssignmentStore) BulkRevoke(ctx context.Context, userIDs []string, roleID string, opts RevokeOptions) []BulkResult {
	return s.bulk(ctx, userIDs, func(userID string) (*Assignment, error) {
		return nil, s.revoke(ctx, userID, roleID, opts)
	})
}

func (s *AssignmentStore) bulk(ctx context.Context, userIDs []string, op func(userID string) (*Assignment, error)) []BulkResult {
	results := make([]BulkResult, len(userIDs))

	var (
		changedMu sync.Mutex
		changed   []string
		g         errgroup.Group
	)
	g.SetLimit(s.bulkLimit)

	for i, userID := range userIDs {
		g.Go(func() error {
			results[i].UserID = userID
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			a, err := op(userID)
			results[i].Assignment = a
			results[i].Err = err
			if err == nil {
				changedMu.Lock()
				changed = append(changed, userID)
				changedMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(changed) > 0 {
		sort.Strings(changed)
		s.notify(ctx, changed)
	}
	return results
}

// ExpireStale revokes every active assignment whose expiry has passed. Each
// user is written in its own transaction; one failing user does not stop
// the pass. Returns the number of assignments revoked.
func (s *AssignmentStore) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.RLock()
	var users []string
	for userID, list := range s.byUser {
		for _, a := range list {
			if a.Active && a.Expired(now) {
				users = append(users, userID)
				break
			}
		}
	}
	s.mu.RUnlock()
	sort.Strings(users)

	var (
		total    int
		affected []string
		errs     []error
	)
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.expireUser(ctx, userID, now)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Error("failed to expire assignments")
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			total += n
			affected = append(affected, userID)
		}
	}

	if len(affected) > 0 {
		s.notify(ctx, affected)
	}
	return total, errors.Join(errs...)
}

func (s *AssignmentStore) expireUser(ctx context.Context, userID string, now time.Time) (int, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var changes ChangeSet
	for _, a := range s.snapshot(userID) {
		if a.Active && a.Expired(now) {
			changes.Revoked = append(changes.Revoked, revokedCopy(a, now, SystemActor, ReasonExpired))
		}
	}
	if changes.Empty() {
		return 0, nil
	}
	if err := s.repo.Apply(ctx, changes); err != nil {
		return 0, fmt.Errorf("failed to persist expiry for user %s: %w", userID, err)
	}
	s.commit(userID, changes)
	return len(changes.Revoked), nil
}
