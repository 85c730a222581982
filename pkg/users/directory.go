package users

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/sirupsen/logrus"
)

// Listener is called synchronously after a user record changed
type Listener func(ctx context.Context, userID string)

// Config configures a Directory
type Config struct {
	// Catalog, when set, rejects grants and denials of unknown actions
	Catalog *catalog.Catalog
	// AssignedRoles, when set, fills the denormalised role list on Put
	AssignedRoles func(userID string) []string
	Clock         func() time.Time
	Logger        *logrus.Logger
}

// Directory manages the permission-relevant fields of users. Every write is
// a read-modify-write under a per-user lock.
type Directory struct {
	repo          Repository
	catalog       *catalog.Catalog
	assignedRoles func(userID string) []string
	now           func() time.Time
	log           *logrus.Logger

	locks sync.Map

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewDirectory creates a user directory
func NewDirectory(repo Repository, cfg Config) *Directory {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Directory{
		repo:          repo,
		catalog:       cfg.Catalog,
		assignedRoles: cfg.AssignedRoles,
		now:           cfg.Clock,
		log:           cfg.Logger,
	}
}

// OnChange registers a listener for user mutations
func (d *Directory) OnChange(l Listener) {
	d.listenerMu.Lock()
	defer d.listenerMu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Directory) notify(ctx context.Context, userID string) {
	d.listenerMu.RLock()
	listeners := append([]Listener(nil), d.listeners...)
	d.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ctx, userID)
	}
}

func (d *Directory) lock(userID string) *sync.Mutex {
	l, _ := d.locks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Get returns a user by ID
func (d *Directory) Get(ctx context.Context, id string) (User, error) {
	u, err := d.repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	return *u, nil
}

// Put creates or replaces a user. The assigned role list is never taken
// from the caller.
func (d *Directory) Put(ctx context.Context, in User) (User, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return User{}, fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	if !in.SystemRole.Valid() {
		return User{}, fmt.Errorf("%w: unknown system role %q", ErrInvalidUser, in.SystemRole)
	}
	if in.WorkplaceRole != "" && !in.WorkplaceRole.Valid() {
		return User{}, fmt.Errorf("%w: unknown workplace role %q", ErrInvalidUser, in.WorkplaceRole)
	}

	next := in.Clone()
	next.DirectPermissions = normalize(next.DirectPermissions)
	next.DeniedPermissions = normalize(next.DeniedPermissions)
	if err := d.validatePermissions(next.DirectPermissions, next.DeniedPermissions); err != nil {
		return User{}, err
	}

	lock := d.lock(next.ID)
	lock.Lock()

	next.AssignedRoles = nil
	if existing, err := d.repo.GetUser(ctx, next.ID); err == nil {
		next.AssignedRoles = existing.AssignedRoles
	}
	if d.assignedRoles != nil {
		next.AssignedRoles = normalize(d.assignedRoles(next.ID))
	}
	next.UpdatedAt = d.now()

	if err := d.repo.PutUser(ctx, &next); err != nil {
		lock.Unlock()
		return User{}, fmt.Errorf("failed to persist user: %w", err)
	}
	lock.Unlock()

	d.log.WithFields(logrus.Fields{"user_id": next.ID, "system_role": next.SystemRole}).Info("user saved")
	d.notify(ctx, next.ID)
	return next.Clone(), nil
}

func (d *Directory) validatePermissions(direct, denied []string) error {
	if both := intersect(direct, denied); len(both) > 0 {
		return fmt.Errorf("%w: %s both granted and denied", ErrConflictingPermissions, strings.Join(both, ", "))
	}
	if d.catalog == nil {
		return nil
	}
	for _, list := range [][]string{direct, denied} {
		for _, action := range list {
			if !d.catalog.Has(action) {
				return fmt.Errorf("%w: %w: %s", ErrInvalidUser, catalog.ErrActionNotFound, action)
			}
		}
	}
	return nil
}

// update performs a read-modify-write of one user and notifies listeners
// when fn reports a change
func (d *Directory) update(ctx context.Context, id string, fn func(u *User) (bool, error)) (User, error) {
	lock := d.lock(id)
	lock.Lock()

	cur, err := d.repo.GetUser(ctx, id)
	if err != nil {
		lock.Unlock()
		return User{}, err
	}
	next := cur.Clone()
	changed, err := fn(&next)
	if err != nil {
		lock.Unlock()
		return User{}, err
	}
	if !changed {
		lock.Unlock()
		return next, nil
	}
	next.UpdatedAt = d.now()
	if err := d.repo.PutUser(ctx, &next); err != nil {
		lock.Unlock()
		return User{}, fmt.Errorf("failed to persist user: %w", err)
	}
	lock.Unlock()

	d.notify(ctx, id)
	return next.Clone(), nil
}

// SetPermissions replaces both the direct and the denied lists
func (d *Directory) SetPermissions(ctx context.Context, id string, direct, denied []string) (User, error) {
	direct, denied = normalize(direct), normalize(denied)
	if err := d.validatePermissions(direct, denied); err != nil {
		return User{}, err
	}
	u, err := d.update(ctx, id, func(u *User) (bool, error) {
		u.DirectPermissions = direct
		u.DeniedPermissions = denied
		return true, nil
	})
	if err == nil {
		d.log.WithFields(logrus.Fields{
			"user_id": id,
			"direct":  len(direct),
			"denied":  len(denied),
		}).Info("user permissions replaced")
	}
	return u, err
}

// Grant adds action to the user's direct permissions
func (d *Directory) Grant(ctx context.Context, id, action string) (User, error) {
	if err := d.validatePermissions([]string{action}, nil); err != nil {
		return User{}, err
	}
	return d.update(ctx, id, func(u *User) (bool, error) {
		if u.IsDenied(action) {
			return false, fmt.Errorf("%w: %s is denied for user %s", ErrConflictingPermissions, action, id)
		}
		if u.HasDirect(action) {
			return false, nil
		}
		u.DirectPermissions = normalize(append(u.DirectPermissions, action))
		return true, nil
	})
}

// RevokeGrant removes action from the user's direct permissions
func (d *Directory) RevokeGrant(ctx context.Context, id, action string) (User, error) {
	return d.update(ctx, id, func(u *User) (bool, error) {
		if !u.HasDirect(action) {
			return false, nil
		}
		u.DirectPermissions = remove(u.DirectPermissions, action)
		return true, nil
	})
}

// Deny puts action on the user's deny list
func (d *Directory) Deny(ctx context.Context, id, action string) (User, error) {
	if err := d.validatePermissions(nil, []string{action}); err != nil {
		return User{}, err
	}
	return d.update(ctx, id, func(u *User) (bool, error) {
		if u.HasDirect(action) {
			return false, fmt.Errorf("%w: %s is granted directly to user %s", ErrConflictingPermissions, action, id)
		}
		if u.IsDenied(action) {
			return false, nil
		}
		u.DeniedPermissions = normalize(append(u.DeniedPermissions, action))
		return true, nil
	})
}

// Undeny removes action from the user's deny list
func (d *Directory) Undeny(ctx context.Context, id, action string) (User, error) {
	return d.update(ctx, id, func(u *User) (bool, error) {
		if !u.IsDenied(action) {
			return false, nil
		}
		u.DeniedPermissions = remove(u.DeniedPermissions, action)
		return true, nil
	})
}

// SyncAssignedRoles overwrites the denormalised role list with roleIDs, as
// read from the assignment store
func (d *Directory) SyncAssignedRoles(ctx context.Context, id string, roleIDs []string) error {
	_, err := d.update(ctx, id, func(u *User) (bool, error) {
		next := normalize(roleIDs)
		if slices.Equal(u.AssignedRoles, next) {
			return false, nil
		}
		u.AssignedRoles = next
		return true, nil
	})
	return err
}
