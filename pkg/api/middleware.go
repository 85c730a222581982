package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/httputil"
	"github.com/pharmacare/permengine/pkg/observability"
	"github.com/pharmacare/permengine/pkg/resolver"
	"github.com/pharmacare/permengine/pkg/users"
)

// CallerHeader names the authenticated caller. Authentication happens
// upstream; the engine trusts this header.
const CallerHeader = "X-User-ID"

// Checker decides single actions for a user
type Checker interface {
	Check(ctx context.Context, userID, action string) (resolver.Decision, error)
}

// PermissionMiddleware guards handlers with permission checks and records
// every decision it makes
type PermissionMiddleware struct {
	checker  Checker
	recorder audit.Recorder
	log      *logrus.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, recorder audit.Recorder, log *logrus.Logger) *PermissionMiddleware {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &PermissionMiddleware{checker: checker, recorder: recorder, log: log}
}

// Caller returns the caller ID stored by RequirePermission, falling back
// to the request header
func Caller(r *http.Request) string {
	if id := observability.GetUserID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(CallerHeader)
}

// RequirePermission lets the request through only when the caller is
// allowed action. A missing caller is 401, a deny is 403 and a resolution
// failure is 500.
func (pm *PermissionMiddleware) RequirePermission(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(CallerHeader)
			if userID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			d, err := pm.checker.Check(r.Context(), userID, action)
			switch {
			case errors.Is(err, users.ErrUserNotFound):
				pm.record(r, requestEvent(r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied, userID, action, "unknown_user"))
				httputil.WriteUnauthorized(w, "unknown caller")
				return
			case err != nil:
				ev := requestEvent(r, audit.EventTypeAuthzPermissionCheck, audit.EventStatusFailure, userID, action, "")
				ev.Message = err.Error()
				pm.record(r, ev)
				pm.log.WithError(err).WithFields(logrus.Fields{
					"user_id": userID,
					"action":  action,
				}).Error("permission check failed")
				httputil.WriteErrorResponse(w, http.StatusInternalServerError, httputil.ErrorResponse{
					Error: "permission check failed",
					Code:  CodeInternal,
				})
				return
			case !d.Allowed:
				ev := requestEvent(r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied, userID, action, d.Reason)
				ev.Source = d.Source
				pm.record(r, ev)
				httputil.WriteErrorResponse(w, http.StatusForbidden, httputil.ErrorResponse{
					Error:   "insufficient permissions",
					Code:    "forbidden",
					Details: map[string]string{"action": action, "reason": d.Reason},
				})
				return
			}

			ev := requestEvent(r, audit.EventTypeAuthzPermissionCheck, audit.EventStatusSuccess, userID, action, "")
			ev.Source = d.Source
			pm.record(r, ev)

			ctx := observability.WithUserID(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (pm *PermissionMiddleware) record(r *http.Request, ev *audit.Event) {
	if err := pm.recorder.Record(r.Context(), ev); err != nil {
		pm.log.WithError(err).WithField("event_type", ev.EventType).Warn("failed to record audit event")
	}
}

// requestEvent fills the request fields of an audit event
func requestEvent(r *http.Request, typ audit.EventType, status audit.EventStatus, userID, action, reason string) *audit.Event {
	return &audit.Event{
		EventType: typ,
		Status:    status,
		UserID:    userID,
		ActorID:   userID,
		Action:    action,
		Reason:    reason,
		RequestID: observability.GetRequestID(r.Context()),
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
