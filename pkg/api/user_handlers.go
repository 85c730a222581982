package api

import (
	"errors"
	"net/http"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/httputil"
	"github.com/pharmacare/permengine/pkg/users"
)

// handlePutUser creates or replaces the permission fields of an account.
// Assigned roles are owned by the assignment store and cannot be set here.
func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req PutUserRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	u, err := s.engine.Users().Put(r.Context(), users.User{
		ID:                userID,
		SystemRole:        req.SystemRole,
		WorkplaceRole:     req.WorkplaceRole,
		DirectPermissions: req.DirectPermissions,
		DeniedPermissions: req.DeniedPermissions,
		Active:            active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.record(r, &audit.Event{
		EventType: audit.EventTypeAuthzPermissionGrant,
		Status:    audit.EventStatusSuccess,
		UserID:    userID,
		Message:   "user saved",
		Metadata:  map[string]interface{}{"system_role": string(u.SystemRole), "active": u.Active},
	})
	httputil.WriteSuccess(w, u)
}

// handleGetPermissions returns the user's resolved permission set in their
// current workspace
func (s *Server) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	res, err := s.engine.Resolve(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// handleSetPermissions replaces the user's direct grants and denials
func (s *Server) handleSetPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req SetPermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	u, err := s.engine.Users().SetPermissions(r.Context(), userID, req.Direct, req.Denied)
	if err != nil {
		status := audit.EventStatusFailure
		if errors.Is(err, users.ErrConflictingPermissions) {
			status = audit.EventStatusDenied
		}
		s.record(r, &audit.Event{
			EventType: audit.EventTypeAuthzPermissionGrant,
			Status:    status,
			UserID:    userID,
			Message:   err.Error(),
		})
		writeError(w, r, err)
		return
	}

	s.record(r, &audit.Event{
		EventType: audit.EventTypeAuthzPermissionGrant,
		Status:    audit.EventStatusSuccess,
		UserID:    userID,
		Metadata: map[string]interface{}{
			"direct": u.DirectPermissions,
			"denied": u.DeniedPermissions,
		},
	})
	httputil.WriteSuccess(w, u)
}
