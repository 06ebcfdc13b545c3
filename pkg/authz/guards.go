package authz

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sitedesk/sitedesk/pkg/audit"
	"github.com/sitedesk/sitedesk/pkg/contextkeys"
	"github.com/sitedesk/sitedesk/pkg/httputil"
	"github.com/sitedesk/sitedesk/pkg/observability"
)

// projectIDField is the name the API uses for project identifiers in route
// variables and query strings. JSON bodies may carry it under this name or
// as snake_case project_id, matching the other body fields.
const projectIDField = "projectId"

// maxGuardBodyBytes caps how much of a request body the project guard will
// buffer while looking for a project id.
const maxGuardBodyBytes = 1 << 20

// Guard builds route middleware that enforces role, permission and project
// access requirements. Guards read the identity the resolver middleware put
// on the request context and never consult the database; a request that
// reaches a guard without a resolved role is rejected rather than waved
// through.
type Guard struct {
	metrics *observability.Metrics
}

// NewGuard creates a guard factory. metrics may be nil.
func NewGuard(metrics *observability.Metrics) *Guard {
	return &Guard{metrics: metrics}
}

func (g *Guard) record(guard string, allowed bool) {
	if g.metrics != nil {
		g.metrics.RecordAuthzDecision(guard, allowed)
	}
}

// deny records a refused decision and emits it to the audit trail the audit
// middleware installed on the request context. A failed or absent trail
// never blocks the response.
func (g *Guard) deny(r *http.Request, guard string, resourceType audit.ResourceType, resourceID, reason string) {
	g.record(guard, false)
	_ = audit.LogDenied(r.Context(), resourceType, resourceID, reason)
}

// RequireRole admits only requests whose resolved role name is in the
// allowed set
func (g *Guard) RequireRole(names ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == nil {
				g.record("require_role", false)
				httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				return
			}

			if !allowed[role.Name] {
				g.deny(r, "require_role", "", r.URL.Path, "role "+role.Name+" is not in the allowed set")
				httputil.WriteForbidden(w, httputil.CodeForbidden, "role is not allowed to access this resource")
				return
			}

			g.record("require_role", true)
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission admits only requests whose resolved role grants the
// (resource, action) permission with a usable scope
func (g *Guard) RequirePermission(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == nil {
				g.record("require_permission", false)
				httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				return
			}

			if !Allowed(role, resource, action) {
				g.deny(r, "require_permission", audit.ResourceType(resource), r.URL.Path,
					"role "+role.Name+" lacks "+string(resource)+":"+string(action))
				httputil.WriteForbidden(w, httputil.CodeActionNotAllowed, "action is not allowed for this role")
				return
			}

			g.record("require_permission", true)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission admits requests whose role grants at least one of
// the listed permissions. Composite screens that render several resource
// types gate on this.
func (g *Guard) RequireAnyPermission(checks ...PermissionCheck) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == nil {
				g.record("require_any_permission", false)
				httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				return
			}

			for _, check := range checks {
				if Allowed(role, check.Resource, check.Action) {
					g.record("require_any_permission", true)
					next.ServeHTTP(w, r)
					return
				}
			}

			g.deny(r, "require_any_permission", "", r.URL.Path, "role "+role.Name+" holds none of the required permissions")
			httputil.WriteForbidden(w, httputil.CodeActionNotAllowed, "action is not allowed for this role")
		})
	}
}

// PermissionCheck names a single (resource, action) pair for
// RequireAnyPermission
type PermissionCheck struct {
	Resource Resource
	Action   Action
}

// RequireProjectAccess admits only requests that name a project the
// resolved role can reach. The project id is looked up in route variables,
// then the query string, then a JSON body; a request that names no project
// at all is malformed here.
func (g *Guard) RequireProjectAccess() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == nil {
				g.record("require_project_access", false)
				httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				return
			}

			projectID, found, err := projectIDFromRequest(r)
			if err != nil {
				g.record("require_project_access", false)
				httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "invalid project id")
				return
			}
			if !found {
				g.record("require_project_access", false)
				httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "project id is required")
				return
			}

			if !projectAccessible(r, role, projectID) {
				id := strconv.FormatInt(projectID, 10)
				g.deny(r, "require_project_access", audit.ResourceProjectAccess, id, "role "+role.Name+" has no access to project "+id)
				httputil.WriteForbidden(w, httputil.CodeNoProjectAccess, "no access to this project")
				return
			}

			g.record("require_project_access", true)
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResourceAccess combines the permission gate with the project gate.
// Requests that name no project pass through to the handler, which is
// expected to restrict its reads with ProjectFilterFromContext.
func (g *Guard) RequireResourceAccess(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == nil {
				g.record("require_resource_access", false)
				httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				return
			}

			if !Allowed(role, resource, action) {
				g.deny(r, "require_resource_access", audit.ResourceType(resource), r.URL.Path,
					"role "+role.Name+" lacks "+string(resource)+":"+string(action))
				httputil.WriteForbidden(w, httputil.CodeActionNotAllowed, "action is not allowed for this role")
				return
			}

			projectID, found, err := projectIDFromRequest(r)
			if err != nil {
				g.record("require_resource_access", false)
				httputil.WriteError(w, http.StatusBadRequest, httputil.CodeBadRequest, "invalid project id")
				return
			}
			if found && !projectAccessible(r, role, projectID) {
				id := strconv.FormatInt(projectID, 10)
				g.deny(r, "require_resource_access", audit.ResourceProjectAccess, id, "role "+role.Name+" has no access to project "+id)
				httputil.WriteForbidden(w, httputil.CodeNoProjectAccess, "no access to this project")
				return
			}

			g.record("require_resource_access", true)
			next.ServeHTTP(w, r)
		})
	}
}

// projectAccessible reports whether the role may touch the given project.
// Roles with all scope on projects reach everything; scoped roles are
// limited to the access set the resolver loaded; roles with no project
// scope reach nothing.
func projectAccessible(r *http.Request, role *Role, projectID int64) bool {
	switch ScopeFor(role, ResourceProject) {
	case ScopeAll:
		return true
	case ScopeAssigned, ScopeOwn:
		access, ok := contextkeys.GetProjectAccess(r.Context())
		if !ok {
			return false
		}
		for _, id := range access {
			if id == projectID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// projectIDFromRequest extracts the project id from the request, searching
// route variables, then the query string, then a JSON body. The body is
// re-buffered so downstream handlers can decode it again. found is false
// when no source names a project; err is non-nil when one does but the
// value is not a valid id.
func projectIDFromRequest(r *http.Request) (projectID int64, found bool, err error) {
	if raw, ok := mux.Vars(r)[projectIDField]; ok {
		id, err := strconv.ParseInt(raw, 10, 64)
		return id, true, err
	}

	if raw := r.URL.Query().Get(projectIDField); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		return id, true, err
	}

	if r.Body == nil || r.Body == http.NoBody {
		return 0, false, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxGuardBodyBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	if len(body) == 0 {
		return 0, false, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		// Not a JSON object; nothing to extract.
		return 0, false, nil
	}
	raw, ok := fields[projectIDField]
	if !ok {
		raw, ok = fields["project_id"]
	}
	if !ok {
		return 0, false, nil
	}

	// The id may arrive as a JSON number or a quoted string.
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, true, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, true, err
	}
	id, err := strconv.ParseInt(asString, 10, 64)
	return id, true, err
}
