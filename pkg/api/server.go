package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/engine"
	"github.com/pharmacare/permengine/pkg/httputil"
	"github.com/pharmacare/permengine/pkg/observability"
)

// Actions guarding the administrative routes
const (
	ActionRoleManage = "role.manage"
	ActionRoleAssign = "role.assign"
	ActionUserManage = "user.manage"
)

const defaultMaxBodyBytes = 1 << 20

// Options configures the API server
type Options struct {
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Recorder audit.Recorder
	// MaxBodyBytes caps request bodies, 1 MiB when zero
	MaxBodyBytes int64
}

// Server is the HTTP front of the permission engine
type Server struct {
	engine   *engine.Engine
	log      *observability.Logger
	recorder audit.Recorder
	guard    *PermissionMiddleware
	router   *mux.Router
	handler  http.Handler
}

// NewServer creates the API server and registers its routes
func NewServer(eng *engine.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewDiscardMetrics()
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.NopRecorder{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	log := opts.Logger.Logrus()
	s := &Server{
		engine:   eng,
		log:      opts.Logger,
		recorder: opts.Recorder,
		guard:    NewPermissionMiddleware(eng, opts.Recorder, log),
		router:   mux.NewRouter(),
	}

	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	s.setupRoutes()

	chain := httputil.Chain(
		httputil.RecoveryMiddleware(log),
		httputil.RequestIDMiddleware,
		s.loggerMiddleware,
		httputil.LoggingMiddleware(log),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "permengine.api")
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)

	v1.Handle("/users/{user_id}", s.requires(ActionUserManage, s.handlePutUser)).Methods(http.MethodPut)
	v1.Handle("/users/{user_id}/permissions", s.requires(ActionUserManage, s.handleGetPermissions)).Methods(http.MethodGet)
	v1.Handle("/users/{user_id}/permissions", s.requires(ActionUserManage, s.handleSetPermissions)).Methods(http.MethodPut)
	v1.Handle("/users/{user_id}/roles", s.requires(ActionRoleAssign, s.handleListAssignments)).Methods(http.MethodGet)
	v1.Handle("/users/{user_id}/roles", s.requires(ActionRoleAssign, s.handleAssignRole)).Methods(http.MethodPost)
	v1.Handle("/users/{user_id}/roles/{role_id}", s.requires(ActionRoleAssign, s.handleRevokeRole)).Methods(http.MethodDelete)
	v1.Handle("/assignments/bulk", s.requires(ActionRoleAssign, s.handleBulkAssignments)).Methods(http.MethodPost)

	v1.Handle("/roles", s.requires(ActionRoleAssign, s.handleListRoles)).Methods(http.MethodGet)
	v1.Handle("/roles", s.requires(ActionRoleManage, s.handleCreateRole)).Methods(http.MethodPost)
	v1.Handle("/roles/{role_id}", s.requires(ActionRoleAssign, s.handleGetRole)).Methods(http.MethodGet)
	v1.Handle("/roles/{role_id}", s.requires(ActionRoleManage, s.handleUpdateRole)).Methods(http.MethodPut)
	v1.Handle("/roles/{role_id}/deactivate", s.requires(ActionRoleManage, s.handleDeactivateRole)).Methods(http.MethodPost)
	v1.Handle("/roles/{role_id}/activate", s.requires(ActionRoleManage, s.handleActivateRole)).Methods(http.MethodPost)
	v1.Handle("/roles/{role_id}/parent", s.requires(ActionRoleManage, s.handleReparentRole)).Methods(http.MethodPut)
	v1.Handle("/roles/{role_id}/effective-permissions", s.requires(ActionRoleAssign, s.handleEffectivePermissions)).Methods(http.MethodGet)

	v1.HandleFunc("/workspaces/{workspace_id}/invalidate", s.handleInvalidateWorkspace).Methods(http.MethodPost)
}

func (s *Server) requires(action string, h http.HandlerFunc) http.Handler {
	return s.guard.RequirePermission(action)(h)
}

// loggerMiddleware makes the server logger available to handlers
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), s.log)))
	})
}

// Router exposes the route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// Guard returns the permission middleware so hosts can protect their own routes
func (s *Server) Guard() *PermissionMiddleware {
	return s.guard
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// record sends an audit event with the request fields filled in
func (s *Server) record(r *http.Request, ev *audit.Event) {
	ev.ActorID = Caller(r)
	ev.RequestID = observability.GetRequestID(r.Context())
	ev.Method = r.Method
	ev.Path = r.URL.Path
	ev.IPAddress = clientIP(r)
	if err := s.recorder.Record(r.Context(), ev); err != nil {
		s.log.WithError(err).WithField("event_type", ev.EventType).Warn("failed to record audit event")
	}
}
