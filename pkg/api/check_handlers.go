package api

import (
	"net/http"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/httputil"
)

// handleCheck answers a single permission question. A deny is a normal 200
// answer here; only lookup and resolution failures are errors.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") || !httputil.RequireNonEmpty(w, req.Action, "action") {
		return
	}

	d, err := s.engine.Check(r.Context(), req.UserID, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ev := &audit.Event{
		EventType: audit.EventTypeAuthzPermissionCheck,
		Status:    audit.EventStatusSuccess,
		UserID:    req.UserID,
		Action:    req.Action,
		Source:    d.Source,
		Reason:    d.Reason,
	}
	if !d.Allowed {
		ev.EventType = audit.EventTypeAuthzAccessDenied
		ev.Status = audit.EventStatusDenied
	}
	s.record(r, ev)

	httputil.WriteSuccess(w, d)
}
