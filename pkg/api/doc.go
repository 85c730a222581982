// Package api provides the HTTP surface of the permission engine.
//
// # Overview
//
// The API is built on gorilla/mux and wraps an *engine.Engine. Routes fall
// into three groups:
//
//   - Checks: POST /v1/check answers one permission question. A deny is a
//     normal answer with allowed=false, not an HTTP error.
//   - Administration: users, role definitions and role assignments. Each
//     route is guarded by RequirePermission with role.manage, role.assign
//     or user.manage.
//   - Hooks: POST /v1/workspaces/{workspace_id}/invalidate, called by
//     billing after a subscription or plan change.
//
// # Callers
//
// Authentication happens upstream. The caller ID arrives in the X-User-ID
// header and is resolved like any other user:
//
//	mw := api.NewPermissionMiddleware(eng, recorder, log)
//	router.Handle("/reports", mw.RequirePermission("report.view")(reports))
//
// No caller is 401, a deny is 403 and a resolution failure is 500.
//
// # Errors
//
// Store errors map to statuses: not found is 404, validation failures such
// as an invalid expiry, a grant/deny conflict or a hierarchy cycle are 400,
// duplicates are 409 and an unavailable workspace upstream is 503.
// Anything else is 500.
//
// # Related Packages
//
//   - pkg/engine: the wired stores the handlers call
//   - pkg/audit: the recorder every decision and mutation is reported to
//   - pkg/httputil: JSON helpers and generic middleware
package api
