package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/pharmacare/permengine/pkg/cache"
	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/pharmacare/permengine/pkg/config"
	"github.com/pharmacare/permengine/pkg/observability"
	"github.com/pharmacare/permengine/pkg/rbac"
	"github.com/pharmacare/permengine/pkg/resolver"
	"github.com/pharmacare/permengine/pkg/storage/postgres"
	"github.com/pharmacare/permengine/pkg/users"
	"github.com/pharmacare/permengine/pkg/workspace"
)

// Deps are the collaborators a host may supply instead of having the engine
// build them from configuration
type Deps struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
	// DB, when set, is used as the primary database instead of dialing
	// Storage.PostgresURL. The engine does not close it.
	DB *sql.DB
	// Redis, when set, backs the redis cache backend. The engine does not close it.
	Redis *redis.Client
	// Source replaces the workspace upstream
	Source workspace.Source
}

// Engine owns every store, cache and background job of the permission
// engine and wires change notification between them
type Engine struct {
	cfg     *config.Config
	log     *observability.Logger
	metrics *observability.Metrics

	catalog     *catalog.Catalog
	matrix      *catalog.Matrix
	roles       *rbac.HierarchyStore
	assignments *rbac.AssignmentStore
	users       *users.Directory
	source      workspace.Source
	loader      *workspace.Loader
	resolver    *resolver.Resolver

	conn      *postgres.ConnectionManager
	ownsConn  bool
	redis     *redis.Client
	ownsRedis bool

	schedMu   sync.Mutex
	scheduler *cron.Cron
}

// New builds an engine from cfg. Stores are loaded and built-in roles
// seeded before New returns.
func New(ctx context.Context, cfg *config.Config, deps Deps) (_ *Engine, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(cfg.Observability.LogLevel, nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewDiscardMetrics()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	e := &Engine{cfg: cfg, log: deps.Logger, metrics: deps.Metrics}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if err := e.loadMatrix(); err != nil {
		return nil, err
	}

	roleRepo, assignmentRepo, userRepo, err := e.openStorage(ctx, deps)
	if err != nil {
		return nil, err
	}
	if err := e.openRedis(ctx, deps); err != nil {
		return nil, err
	}

	log := deps.Logger.Logrus()
	decisions, err := newCache[resolver.Decision](e, "decisions", deps.Clock)
	if err != nil {
		return nil, err
	}
	contexts, err := newCache[*workspace.Context](e, "contexts", deps.Clock)
	if err != nil {
		return nil, err
	}

	e.roles = rbac.NewHierarchyStore(roleRepo, rbac.HierarchyConfig{
		Catalog: e.catalog,
		Clock:   deps.Clock,
		Logger:  log,
	})
	if err := e.roles.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	if cfg.Engine.SeedBuiltInRoles {
		created, err := e.roles.SeedBuiltInRoles(ctx, rbac.SystemActor)
		if err != nil {
			return nil, fmt.Errorf("failed to seed built-in roles: %w", err)
		}
		if created > 0 {
			e.log.WithField("created", created).Info("seeded built-in roles")
		}
	}

	e.assignments = rbac.NewAssignmentStore(assignmentRepo, e.roles, rbac.AssignmentConfig{
		Clock:  deps.Clock,
		Logger: log,
	})
	if err := e.assignments.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}

	e.users = users.NewDirectory(userRepo, users.Config{
		Catalog:       e.catalog,
		AssignedRoles: e.assignments.AssignedRoleIDs,
		Clock:         deps.Clock,
		Logger:        log,
	})

	e.loader = workspace.NewLoader(e.source, contexts, workspace.LoaderConfig{
		TTL:          cfg.Cache.WorkspaceTTL,
		FetchTimeout: cfg.Engine.WorkspaceFetchTimeout,
		Clock:        deps.Clock,
		Logger:       log,
		Metrics:      deps.Metrics,
	})

	e.resolver = resolver.New(e.matrix, e.roles, e.assignments, decisions, resolver.Options{
		SuperAdminBypassesGates: cfg.Engine.SuperAdminBypassesGates,
		CacheTTL:                cfg.Cache.DecisionTTL,
		Clock:                   deps.Clock,
		Logger:                  log,
		Metrics:                 deps.Metrics,
	})

	e.wire()
	return e, nil
}

func (e *Engine) loadMatrix() error {
	if e.cfg.Engine.MatrixFile == "" {
		e.catalog = catalog.DefaultCatalog()
		e.matrix = catalog.DefaultMatrix()
		return nil
	}
	cat, matrix, err := catalog.LoadFile(e.cfg.Engine.MatrixFile)
	if err != nil {
		return fmt.Errorf("failed to load action matrix: %w", err)
	}
	e.catalog, e.matrix = cat, matrix
	e.log.WithFields(map[string]interface{}{
		"file":    e.cfg.Engine.MatrixFile,
		"actions": len(matrix.Actions()),
	}).Info("loaded action matrix")
	return nil
}

func (e *Engine) openStorage(ctx context.Context, deps Deps) (rbac.RoleRepository, rbac.AssignmentRepository, users.Repository, error) {
	log := deps.Logger.Logrus()
	storage := e.cfg.Storage

	switch {
	case deps.DB != nil:
		e.conn = postgres.NewConnectionManagerFromDB(deps.DB, log)
	case storage.PostgresURL != "":
		conn, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL:  storage.PostgresURL,
			ReplicaURLs: postgres.ParseReplicaURLs(storage.PostgresReplicaURLs),
			MaxConns:    storage.PostgresMaxConns,
			MinConns:    storage.PostgresMinConns,
			Timeout:     storage.PostgresTimeout,
		}, log)
		if err != nil {
			return nil, nil, nil, err
		}
		e.conn, e.ownsConn = conn, true
	default:
		e.source = deps.Source
		if e.source == nil {
			e.source = workspace.NewMemorySource()
		}
		e.log.Info("no database configured, using in-memory stores")
		return rbac.NewMemoryRoleRepository(), rbac.NewMemoryAssignmentRepository(), users.NewMemoryRepository(), nil
	}

	db := e.conn.Primary()
	if err := postgres.RunMigrations(ctx, db, log); err != nil {
		return nil, nil, nil, err
	}

	e.source = deps.Source
	if e.source == nil {
		src := postgres.NewWorkspaceSource(e.conn)
		if err := src.SeedPlans(ctx); err != nil {
			return nil, nil, nil, err
		}
		e.source = src
	}
	return postgres.NewRoleRepository(db), postgres.NewAssignmentRepository(db), postgres.NewUserRepository(db), nil
}

func (e *Engine) openRedis(ctx context.Context, deps Deps) error {
	if deps.Redis != nil {
		e.redis = deps.Redis
		return nil
	}
	if e.cfg.Cache.Backend != cache.BackendRedis {
		return nil
	}
	storage := e.cfg.Storage
	client, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{
		URL:        storage.RedisURL,
		Password:   storage.RedisPassword,
		DB:         storage.RedisDB,
		MaxRetries: storage.RedisMaxRetries,
		PoolSize:   storage.RedisPoolSize,
	})
	if err != nil {
		return err
	}
	e.redis, e.ownsRedis = client, true
	return nil
}

func newCache[V any](e *Engine, name string, clock func() time.Time) (cache.Cache[V], error) {
	c, err := cache.New[V](cache.Options{
		Backend:   e.cfg.Cache.Backend,
		LRUSize:   e.cfg.Cache.LRUSize,
		Redis:     e.redis,
		Namespace: "permengine:" + name,
		Clock:     clock,
		Logger:    e.log.Logrus(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", name, err)
	}
	return cache.Instrument(c, name, e.metrics), nil
}

// wire registers the invalidation listeners. Every listener runs inside the
// mutating call, so a mutation has invalidated before it returns.
func (e *Engine) wire() {
	e.roles.OnChange(func(ctx context.Context, roleID string) {
		e.resolver.InvalidateAll(ctx)
	})

	e.assignments.OnChange(func(ctx context.Context, userIDs []string) {
		for _, id := range userIDs {
			err := e.users.SyncAssignedRoles(ctx, id, e.assignments.AssignedRoleIDs(id))
			if err != nil && !errors.Is(err, users.ErrUserNotFound) {
				e.log.WithError(err).WithField("user_id", id).Warn("failed to sync assigned roles")
			}
			e.resolver.InvalidateUser(ctx, id)
		}
	})

	e.users.OnChange(func(ctx context.Context, userID string) {
		e.resolver.InvalidateUser(ctx, userID)
	})
}

// Check decides whether the user may perform action in their current workspace
func (e *Engine) Check(ctx context.Context, userID, action string) (resolver.Decision, error) {
	gen := e.resolver.Generation(userID)
	u, err := e.users.Get(ctx, userID)
	if err != nil {
		return resolver.Decision{}, err
	}
	wctx := e.loader.Load(ctx, userID)
	return e.resolver.DecideAsOf(ctx, gen, &u, action, wctx)
}

// Resolve returns the user's full effective permission set
func (e *Engine) Resolve(ctx context.Context, userID string) (*resolver.Result, error) {
	u, err := e.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	wctx := e.loader.Load(ctx, userID)
	return e.resolver.Resolve(ctx, &u, wctx)
}

// WorkspaceContext returns the user's cached or freshly loaded workspace context
func (e *Engine) WorkspaceContext(ctx context.Context, userID string) *workspace.Context {
	return e.loader.Load(ctx, userID)
}

// InvalidateWorkspace is called when a workspace, its subscription or its
// plan changed upstream. It drops the cached context and decisions of every
// affected user and returns their IDs.
func (e *Engine) InvalidateWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	ids, err := e.loader.InvalidateWorkspace(ctx, workspaceID)
	for _, id := range ids {
		e.resolver.InvalidateUser(ctx, id)
	}
	return ids, err
}

// InvalidateUser drops the cached context and decisions of one user
func (e *Engine) InvalidateUser(ctx context.Context, userID string) {
	e.loader.Invalidate(ctx, userID)
	e.resolver.InvalidateUser(ctx, userID)
}

func (e *Engine) Catalog() *catalog.Catalog          { return e.catalog }
func (e *Engine) Matrix() *catalog.Matrix            { return e.matrix }
func (e *Engine) Roles() *rbac.HierarchyStore        { return e.roles }
func (e *Engine) Assignments() *rbac.AssignmentStore { return e.assignments }
func (e *Engine) Users() *users.Directory            { return e.users }
func (e *Engine) Resolver() *resolver.Resolver       { return e.resolver }
func (e *Engine) Loader() *workspace.Loader          { return e.loader }
func (e *Engine) Source() workspace.Source           { return e.source }

// DB returns the primary database, or nil when running in memory
func (e *Engine) DB() *sql.DB {
	if e.conn == nil {
		return nil
	}
	return e.conn.Primary()
}

// Redis returns the cache client, or nil when another backend is in use
func (e *Engine) Redis() *redis.Client {
	return e.redis
}

// Close releases the connections the engine opened itself
func (e *Engine) Close() error {
	var errs []error
	if e.conn != nil && e.ownsConn {
		errs = append(errs, e.conn.Close())
	}
	if e.redis != nil && e.ownsRedis {
		errs = append(errs, e.redis.Close())
	}
	return errors.Join(errs...)
}
