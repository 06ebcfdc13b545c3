// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Every API response travels in a uniform envelope. Success responses carry a
// data payload; failures carry an error with a stable machine-readable code:
//
//	{"success": true, "data": {...}}
//	{"success": false, "error": {"message": "...", "code": "NO_PROJECT_ACCESS"}}
//
// Clients branch on the code, never on message text. A denial is never
// returned with a 200.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, role)
//	httputil.WriteCreated(w, role)
//	httputil.WriteForbidden(w, httputil.CodeActionNotAllowed, "action not allowed")
//	httputil.WriteBadRequest(w, "project id is required")
//	httputil.WriteValidationError(w, "name is required")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req createRoleRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path, query and pagination parameters:
//
//	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
//	search := httputil.ParseQueryString(r, "search", "")
//	page, err := httputil.ParsePagination(r)
//
// # Validation
//
//	httputil.ValidateAll(w,
//		func() (bool, string) { return req.Name != "", "name is required" },
//	)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.ContentTypeMiddleware,
//		httputil.MaxBytesMiddleware(1*1024*1024), // 1MB
//	)
//
// # Related Packages
//
//   - pkg/authz: guards that emit these envelopes on denial
//   - pkg/middleware: identity resolution and rate limiting
package httputil
