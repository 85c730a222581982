package api

import (
	"errors"
	"net/http"

	"github.com/pharmacare/permengine/pkg/catalog"
	"github.com/pharmacare/permengine/pkg/httputil"
	"github.com/pharmacare/permengine/pkg/observability"
	"github.com/pharmacare/permengine/pkg/rbac"
	"github.com/pharmacare/permengine/pkg/resolver"
	"github.com/pharmacare/permengine/pkg/users"
	"github.com/pharmacare/permengine/pkg/workspace"
)

// Error codes carried in ErrorResponse.Code
const (
	CodeNotFound    = "not_found"
	CodeInvalid     = "invalid_request"
	CodeConflict    = "conflict"
	CodeUnavailable = "upstream_unavailable"
	CodeInternal    = "internal"
)

var (
	notFoundErrors = []error{
		rbac.ErrRoleNotFound,
		rbac.ErrAssignmentNotFound,
		users.ErrUserNotFound,
		workspace.ErrWorkspaceNotFound,
	}
	invalidErrors = []error{
		rbac.ErrInvalidExpiry,
		rbac.ErrCyclicHierarchy,
		rbac.ErrInvalidRole,
		rbac.ErrUnknownPermission,
		rbac.ErrInvalidAssignment,
		users.ErrConflictingPermissions,
		users.ErrInvalidUser,
		catalog.ErrPermissionNotFound,
		catalog.ErrActionNotFound,
	}
	conflictErrors = []error{
		rbac.ErrDuplicateRole,
		rbac.ErrDuplicateAssignment,
	}
)

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor maps a store error to an HTTP status and error code. A cycle
// met while resolving is a server fault; the same cycle on a write is a
// rejected request.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, resolver.ErrResolution):
		return http.StatusInternalServerError, CodeInternal
	case isAny(err, invalidErrors):
		return http.StatusBadRequest, CodeInvalid
	case isAny(err, notFoundErrors):
		return http.StatusNotFound, CodeNotFound
	case isAny(err, conflictErrors):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, workspace.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeError answers err with its mapped status. Server errors are logged
// and their text is not echoed to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		msg = "internal server error"
	}
	httputil.WriteErrorResponse(w, status, httputil.ErrorResponse{Error: msg, Code: code})
}
