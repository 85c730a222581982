// Package httputil provides the JSON request and response helpers and the
// generic middleware shared by the permission engine's HTTP surface.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, decision)
//	httputil.WriteCreated(w, role)
//	httputil.WriteBadRequest(w, "action is required")
//	httputil.WriteForbidden(w, "permission denied")
//
// # Request Parsing
//
//	var req checkRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	roleID, ok := httputil.ParsePathStringOrError(w, r, "role_id")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(log),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(log),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
