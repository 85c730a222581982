package api

import (
	"net/http"
	"sort"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/httputil"
	"github.com/pharmacare/permengine/pkg/rbac"
)

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, s.engine.Roles().ListRoles())
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.Actor = Caller(r)

	role, err := s.engine.Roles().CreateRole(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.recordRoleChange(r, role, "created")
	httputil.WriteCreated(w, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}
	role, err := s.engine.Roles().GetRole(roleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}
	var upd rbac.RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}

	role, err := s.engine.Roles().UpdateRole(r.Context(), roleID, upd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.recordRoleChange(r, role, "updated")
	httputil.WriteSuccess(w, role)
}

func (s *Server) handleDeactivateRole(w http.ResponseWriter, r *http.Request) {
	s.setRoleActive(w, r, false)
}

func (s *Server) handleActivateRole(w http.ResponseWriter, r *http.Request) {
	s.setRoleActive(w, r, true)
}

func (s *Server) setRoleActive(w http.ResponseWriter, r *http.Request, active bool) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	roles := s.engine.Roles()
	var (
		role rbac.Role
		err  error
	)
	if active {
		role, err = roles.ActivateRole(r.Context(), roleID)
	} else {
		role, err = roles.DeactivateRole(r.Context(), roleID)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	change := "deactivated"
	if active {
		change = "activated"
	}
	s.recordRoleChange(r, role, change)
	httputil.WriteSuccess(w, role)
}

// handleReparentRole moves a role in the hierarchy. Moves that would close
// a cycle are rejected with 400.
func (s *Server) handleReparentRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}
	var req ReparentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := s.engine.Roles().Reparent(r.Context(), roleID, req.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.recordRoleChange(r, role, "reparented")
	httputil.WriteSuccess(w, role)
}

// handleEffectivePermissions returns the role's permissions with the role
// each one is inherited from and the path up to the root
func (s *Server) handleEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
	if !ok {
		return
	}

	roles := s.engine.Roles()
	origins, err := roles.PermissionOrigins(roleID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, err := roles.InheritancePath(roleID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := EffectivePermissionsResponse{
		RoleID:          roleID,
		Permissions:     make([]string, 0, len(origins)),
		Origins:         make(map[string]string, len(origins)),
		InheritancePath: make([]PathRole, 0, len(path)),
	}
	for action, from := range origins {
		resp.Permissions = append(resp.Permissions, action)
		resp.Origins[action] = from.Name
	}
	sort.Strings(resp.Permissions)
	for _, p := range path {
		resp.InheritancePath = append(resp.InheritancePath, PathRole{ID: p.ID, Name: p.Name, Level: p.Level, Active: p.Active})
	}
	httputil.WriteSuccess(w, resp)
}

func (s *Server) recordRoleChange(r *http.Request, role rbac.Role, change string) {
	s.record(r, &audit.Event{
		EventType:  audit.EventTypeAuthzRoleChange,
		Status:     audit.EventStatusSuccess,
		ResourceID: role.ID,
		Message:    "role " + change,
		Metadata:   map[string]interface{}{"role_name": role.Name, "active": role.Active},
	})
}
