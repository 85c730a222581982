package api

import (
	"net/http"

	"github.com/pharmacare/permengine/pkg/audit"
	"github.com/pharmacare/permengine/pkg/httputil"
)

// handleInvalidateWorkspace is the hook billing calls after a workspace,
// subscription or plan change. Cached users are dropped even when the
// member lookup fails; the caller then gets 503 and should retry.
func (s *Server) handleInvalidateWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathStringOrError(w, r, "workspace_id")
	if !ok {
		return
	}

	ids, err := s.engine.InvalidateWorkspace(r.Context(), workspaceID)
	ev := &audit.Event{
		EventType:   audit.EventTypeAuthzCacheInvalidate,
		Status:      audit.EventStatusSuccess,
		WorkspaceID: workspaceID,
		Metadata:    map[string]interface{}{"users": len(ids)},
	}
	if err != nil {
		ev.Status = audit.EventStatusFailure
		ev.Message = err.Error()
	}
	s.record(r, ev)

	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httputil.WriteSuccess(w, InvalidateResponse{WorkspaceID: workspaceID, InvalidatedUsers: ids})
}
