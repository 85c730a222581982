package api

import (
	"net/http"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/httputil"
	"github.com/pharmacare/permengine/pkg/rbac"
)

// handleListAssignments returns the user's active assignments in one scope,
// or the full history with ?history=true
func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	history, err := httputil.ParseQueryBool(r, "history", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	store := s.engine.Assignments()
	var out []rbac.Assignment
	if history {
		out = store.History(userID)
	} else {
		var scope *string
		if ws := httputil.ParseQueryString(r, "workspace_id", ""); ws != "" {
			scope = &ws
		}
		out = store.ActiveAssignmentsFor(userID, scope)
	}
	if out == nil {
		out = []rbac.Assignment{}
	}
	httputil.WriteSuccess(w, out)
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}

	a, err := s.engine.Assignments().Assign(r.Context(), userID, req.RoleID, rbac.AssignOptions{
		WorkspaceID: req.WorkspaceID,
		Temporary:   req.Temporary,
		ExpiresAt:   req.ExpiresAt,
		Reason:      req.Reason,
		Replace:     req.Replace,
		Actor:       Caller(r),
	})
	if err != nil {
		s.record(r, &audit.Event{
			EventType:  audit.EventTypeAuthzPermissionGrant,
			Status:     audit.EventStatusFailure,
			UserID:     userID,
			ResourceID: req.RoleID,
			Message:    err.Error(),
		})
		writeError(w, r, err)
		return
	}

	s.record(r, &audit.Event{
		EventType:   audit.EventTypeAuthzPermissionGrant,
		Status:      audit.EventStatusSuccess,
		UserID:      userID,
		ResourceID:  req.RoleID,
		WorkspaceID: derefString(req.WorkspaceID),
		Reason:      req.Reason,
		Metadata:    map[string]interface{}{"assignment_id": a.ID, "temporary": a.Temporary},
	})
	httputil.WriteCreated(w, a)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	opts := rbac.RevokeOptions{
		Reason: httputil.ParseQueryString(r, "reason", ""),
		Actor:  Caller(r),
	}
	if ws := httputil.ParseQueryString(r, "workspace_id", ""); ws != "" {
		opts.WorkspaceID = &ws
	}

	if err := s.engine.Assignments().Revoke(r.Context(), userID, roleID, opts); err != nil {
		writeError(w, r, err)
		return
	}

	s.record(r, &audit.Event{
		EventType:   audit.EventTypeAuthzPermissionRevoke,
		Status:      audit.EventStatusSuccess,
		UserID:      userID,
		ResourceID:  roleID,
		WorkspaceID: derefString(opts.WorkspaceID),
		Reason:      opts.Reason,
	})
	httputil.WriteNoContent(w)
}

// handleBulkAssignments applies one role change to many users. Users fail
// independently, so the call itself succeeds whenever the request is valid.
func (s *Server) handleBulkAssignments(w http.ResponseWriter, r *http.Request) {
	var req BulkAssignmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RoleID, "role_id") {
		return
	}
	if len(req.UserIDs) == 0 {
		httputil.WriteBadRequest(w, "user_ids is required")
		return
	}
	if req.Operation == "" {
		req.Operation = BulkAssign
	}

	store := s.engine.Assignments()
	actor := Caller(r)
	var results []rbac.BulkResult
	eventType := audit.EventTypeAuthzPermissionGrant

	switch req.Operation {
	case BulkAssign:
		results = store.BulkAssign(r.Context(), req.UserIDs, req.RoleID, rbac.AssignOptions{
			WorkspaceID: req.WorkspaceID,
			Temporary:   req.Temporary,
			ExpiresAt:   req.ExpiresAt,
			Reason:      req.Reason,
			Actor:       actor,
		})
	case BulkRevoke:
		eventType = audit.EventTypeAuthzPermissionRevoke
		results = store.BulkRevoke(r.Context(), req.UserIDs, req.RoleID, rbac.RevokeOptions{
			WorkspaceID: req.WorkspaceID,
			Reason:      req.Reason,
			Actor:       actor,
		})
	default:
		httputil.WriteBadRequest(w, "operation must be assign or revoke")
		return
	}

	resp := BulkAssignmentResponse{Operation: req.Operation, Results: make([]BulkItem, 0, len(results))}
	for _, res := range results {
		item := BulkItem{UserID: res.UserID, Assignment: res.Assignment}
		if res.Err != nil {
			item.Error = res.Err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, item)
	}

	s.record(r, &audit.Event{
		EventType:   eventType,
		Status:      audit.EventStatusSuccess,
		ResourceID:  req.RoleID,
		WorkspaceID: derefString(req.WorkspaceID),
		Reason:      req.Reason,
		Message:     "bulk " + req.Operation,
		Metadata:    map[string]interface{}{"succeeded": resp.Succeeded, "failed": resp.Failed},
	})
	httputil.WriteSuccess(w, resp)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
