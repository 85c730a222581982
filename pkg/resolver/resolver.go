package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pharmacare/permengine/pkg/billing"
	"github.com/pharmacare/permengine/pkg/cache"
	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/pharmacare/permengine/pkg/observability"
	"github.com/pharmacare/permengine/pkg/rbac"
	"github.com/pharmacare/permengine/pkg/users"
	"github.com/pharmacare/permengine/pkg/workspace"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	keyPrefix = "decision:"
)

// RoleGraph is the part of the role hierarchy the resolver reads
type RoleGraph interface {
	GetRole(id string) (rbac.Role, error)
	PermissionOrigins(id string) (map[string]rbac.Role, error)
}

// AssignmentIndex is the part of the assignment store the resolver reads
type AssignmentIndex interface {
	ActiveAssignmentsFor(userID string, workspaceID *string) []rbac.Assignment
}

// Options configures a Resolver
type Options struct {
	// SuperAdminBypassesGates lets super_admin skip feature, tier and
	// subscription gates. The deny list still applies.
	SuperAdminBypassesGates bool
	CacheTTL                time.Duration
	// Clock must match the assignment store's clock so cached decisions
	// expire with the temporary assignments behind them
	Clock   func() time.Time
	Logger  *logrus.Logger
	Metrics *observability.Metrics
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		SuperAdminBypassesGates: true,
		CacheTTL:                DefaultCacheTTL,
	}
}

// Resolver decides whether a user may perform an action. It does no I/O of
// its own; it reads the in-memory stores and the loaded workspace context.
type Resolver struct {
	matrix      *catalog.Matrix
	roles       RoleGraph
	assignments AssignmentIndex
	cache       cache.Cache[Decision]
	gens        generations
	opts        Options
	now         func() time.Time
	log         *logrus.Logger
	metrics     *observability.Metrics
}

// New creates a resolver caching decisions in c
func New(matrix *catalog.Matrix, roles RoleGraph, assignments AssignmentIndex, c cache.Cache[Decision], opts Options) *Resolver {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewDiscardMetrics()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Resolver{
		matrix:      matrix,
		roles:       roles,
		assignments: assignments,
		cache:       c,
		gens:        generations{users: make(map[string]uint64)},
		opts:        opts,
		now:         opts.Clock,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
}

func decisionKey(userID string, workspaceID *string, action string) string {
	ws := "-"
	if workspaceID != nil {
		ws = *workspaceID
	}
	return keyPrefix + userID + ":" + ws + ":" + action
}

// Check reports whether user may perform action in wctx
func (r *Resolver) Check(ctx context.Context, user *users.User, action string, wctx *workspace.Context) (bool, error) {
	d, err := r.Decide(ctx, user, action, wctx)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Decide returns the explained decision for one action. A decision that
// relied on a temporary assignment is cached no longer than the assignment
// lives.
func (r *Resolver) Decide(ctx context.Context, user *users.User, action string, wctx *workspace.Context) (Decision, error) {
	return r.DecideAsOf(ctx, r.Generation(user.ID), user, action, wctx)
}

// Generation returns the user's current invalidation generation
func (r *Resolver) Generation(userID string) Generation {
	return r.gens.current(userID)
}

// DecideAsOf is Decide for a user and workspace context read after gen was
// taken. The decision is not cached if the user was invalidated since gen.
func (r *Resolver) DecideAsOf(ctx context.Context, gen Generation, user *users.User, action string, wctx *workspace.Context) (Decision, error) {
	start := time.Now()
	now := r.now()
	if wctx == nil {
		wctx = workspace.Empty(now)
	}
	key := decisionKey(user.ID, wctx.WorkspaceID(), action)

	if d, ok := r.cache.Get(ctx, key); ok {
		if d.ValidUntil == nil || now.Before(*d.ValidUntil) {
			d.Cached = true
			r.observe(d, true, start)
			return d, nil
		}
		r.cache.Delete(ctx, key)
	}

	_, span := observability.Tracer().Start(ctx, "resolver.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.String("permission.action", action),
	)

	grants := r.lazyGrants(user.ID, wctx.WorkspaceID())
	d, err := r.evaluate(user, action, wctx, grants)
	if err != nil {
		err = fmt.Errorf("%w: %s for user %s: %w", ErrResolution, action, user.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		r.metrics.ResolutionErrorsTotal.Inc()
		r.log.WithError(err).WithFields(logrus.Fields{"user_id": user.ID, "action": action}).Error("permission resolution failed")
		return Decision{Action: action}, err
	}
	d.ValidUntil = grants.until

	span.SetAttributes(
		attribute.Bool("permission.allowed", d.Allowed),
		attribute.String("permission.source", d.Source),
	)

	ttl := r.opts.CacheTTL
	if d.ValidUntil != nil {
		ttl = min(ttl, d.ValidUntil.Sub(now))
	}
	if ttl > 0 {
		stored := r.gens.storeIf(user.ID, gen, func() {
			r.cache.Set(ctx, key, d, ttl)
		})
		if !stored {
			r.log.WithFields(logrus.Fields{"user_id": user.ID, "action": action}).Debug("user invalidated during evaluation, decision not cached")
		}
	}
	r.observe(d, false, start)
	return d, nil
}

func (r *Resolver) observe(d Decision, cached bool, start time.Time) {
	result := "deny"
	if d.Allowed {
		result = "allow"
	}
	kind := string(KindOf(d.Source))
	if kind == "" {
		kind = "none"
	}
	r.metrics.DecisionsTotal.WithLabelValues(result, kind).Inc()
	r.metrics.DecisionDuration.WithLabelValues(strconv.FormatBool(cached)).Observe(time.Since(start).Seconds())
}

// Resolve evaluates every action in the matrix for the user
func (r *Resolver) Resolve(ctx context.Context, user *users.User, wctx *workspace.Context) (*Result, error) {
	_, span := observability.Tracer().Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", user.ID))

	if wctx == nil {
		wctx = workspace.Empty(r.now())
	}

	res := &Result{
		UserID:      user.ID,
		WorkspaceID: wctx.WorkspaceID(),
		Effective:   []string{},
		Denied:      []string{},
		Sources:     make(map[string]string),
		Blocked:     make(map[string]string),
	}

	grants := r.lazyGrants(user.ID, wctx.WorkspaceID())
	for _, action := range r.matrix.Actions() {
		d, err := r.evaluate(user, action, wctx, grants)
		if err != nil {
			err = fmt.Errorf("%w: user %s: %w", ErrResolution, user.ID, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolution failed")
			r.metrics.ResolutionErrorsTotal.Inc()
			r.log.WithError(err).WithField("user_id", user.ID).Error("permission resolution failed")
			return nil, err
		}
		switch {
		case d.Allowed:
			res.Effective = append(res.Effective, action)
			res.Sources[action] = d.Source
		case d.Source != "" && d.Reason != ReasonDenied:
			res.Blocked[action] = d.Reason
		}
	}

	for _, action := range user.DeniedPermissions {
		res.Denied = append(res.Denied, action)
		res.Sources[action] = source(SourceDenied, "")
	}
	sort.Strings(res.Denied)
	return res, nil
}

// roleGrantSet is a memoised lookup of the user's role-derived grants,
// computed on first use. until is the earliest expiry among the temporary
// assignments it read.
type roleGrantSet struct {
	load   func() (map[string]string, *time.Time, error)
	loaded bool
	grants map[string]string
	until  *time.Time
	err    error
}

func (g *roleGrantSet) get() (map[string]string, error) {
	if !g.loaded {
		g.grants, g.until, g.err = g.load()
		g.loaded = true
	}
	return g.grants, g.err
}

func (r *Resolver) lazyGrants(userID string, workspaceID *string) *roleGrantSet {
	return &roleGrantSet{load: func() (map[string]string, *time.Time, error) {
		return r.roleGrants(userID, workspaceID)
	}}
}

// roleGrants maps every action granted through the user's active roles to
// its source. Earlier assignments win when two roles grant the same action.
func (r *Resolver) roleGrants(userID string, workspaceID *string) (map[string]string, *time.Time, error) {
	grants := make(map[string]string)
	var until *time.Time
	seen := make(map[string]struct{})
	for _, a := range r.assignments.ActiveAssignmentsFor(userID, workspaceID) {
		if a.ExpiresAt != nil && (until == nil || a.ExpiresAt.Before(*until)) {
			exp := *a.ExpiresAt
			until = &exp
		}
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}

		role, err := r.roles.GetRole(a.RoleID)
		if err != nil {
			if errors.Is(err, rbac.ErrRoleNotFound) {
				r.log.WithFields(logrus.Fields{"user_id": userID, "role_id": a.RoleID}).Warn("assignment refers to a missing role")
				continue
			}
			return nil, nil, err
		}
		if !role.Active {
			continue
		}

		origins, err := r.roles.PermissionOrigins(a.RoleID)
		if err != nil {
			return nil, nil, err
		}
		for action, origin := range origins {
			if _, ok := grants[action]; ok {
				continue
			}
			if origin.ID == role.ID {
				grants[action] = source(SourceRole, role.DisplayName)
			} else {
				grants[action] = source(SourceInherited, origin.DisplayName)
			}
		}
	}
	return grants, until, nil
}

// evaluate applies the merge order: deny list, unknown action, direct
// grant, role grant, legacy matrix, default deny. A grant is then gated on
// features, plan tier and subscription.
func (r *Resolver) evaluate(user *users.User, action string, wctx *workspace.Context, grants *roleGrantSet) (Decision, error) {
	d := Decision{Action: action}

	if user.IsDenied(action) {
		d.Source = source(SourceDenied, "")
		d.Reason = ReasonDenied
		return d, nil
	}

	req, err := r.matrix.RequirementsFor(action)
	if err != nil {
		d.Reason = ReasonUnknownAction
		return d, nil
	}

	if !user.Active {
		d.Reason = ReasonUserInactive
		return d, nil
	}

	switch {
	case user.HasDirect(action):
		d.Source = source(SourceDirect, "")
	default:
		g, err := grants.get()
		if err != nil {
			return Decision{}, err
		}
		if src, ok := g[action]; ok {
			d.Source = src
		} else if label, ok := legacyGrant(user, req); ok {
			d.Source = source(SourceLegacy, label)
		}
	}
	if d.Source == "" {
		d.Reason = ReasonNotGranted
		return d, nil
	}

	if user.IsSuperAdmin() && r.opts.SuperAdminBypassesGates {
		d.Allowed = true
		return d, nil
	}

	reason, trial := gate(req, wctx)
	if reason != "" {
		d.Reason = reason
		return d, nil
	}
	d.Allowed = true
	d.TrialAccess = trial
	return d, nil
}

// legacyGrant checks the matrix role lists against the user's system and
// workplace roles. An empty list does not restrict; both lists must pass.
// super_admin satisfies any role list.
func legacyGrant(user *users.User, req catalog.Requirement) (string, bool) {
	if !user.IsSuperAdmin() {
		if len(req.SystemRoles) > 0 && !catalog.SatisfiesSystemRole(user.SystemRole, req.SystemRoles) {
			return "", false
		}
		if len(req.WorkplaceRoles) > 0 && !catalog.SatisfiesWorkplaceRole(user.WorkplaceRole, req.WorkplaceRoles) {
			return "", false
		}
	}

	if len(req.SystemRoles) == 0 && len(req.WorkplaceRoles) > 0 && user.WorkplaceRole != "" {
		return string(user.WorkplaceRole), true
	}
	return string(user.SystemRole), true
}

// gate returns the first failed gate as a reason, and whether the trial
// bypass was used
func gate(req catalog.Requirement, wctx *workspace.Context) (string, bool) {
	trial := req.AllowTrialAccess && wctx.InTrial()

	if !trial {
		for _, f := range req.Features {
			if !wctx.HasFeature(f) {
				return ReasonFeatureRequired + ":" + f, false
			}
		}
	}

	if min, ok := req.MinimumTier(); ok && !billing.AtLeast(wctx.Tier(), min) {
		return ReasonTierRequired + ":" + string(min), false
	}

	if req.RequiresActiveSubscription && !trial && !wctx.IsSubscriptionActive {
		return ReasonSubscriptionInactive, false
	}

	usedBypass := trial && (len(req.Features) > 0 || req.RequiresActiveSubscription)
	return "", usedBypass
}

// InvalidateUser drops every cached decision of the user. Decisions still
// being evaluated for the user are not cached afterwards.
func (r *Resolver) InvalidateUser(ctx context.Context, userID string) {
	r.gens.bumpUser(userID)
	r.cache.DeletePrefix(ctx, keyPrefix+userID+":")
	r.metrics.InvalidationsTotal.WithLabelValues("decision_user").Inc()
}

// InvalidateAll drops every cached decision
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.gens.bumpAll()
	r.cache.DeletePrefix(ctx, keyPrefix)
	r.metrics.InvalidationsTotal.WithLabelValues("decision_all").Inc()
}

// Sweep evicts expired decisions
func (r *Resolver) Sweep(ctx context.Context) int {
	return r.cache.Sweep(ctx)
}
