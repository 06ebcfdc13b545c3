package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sitedesk/sitedesk/pkg/audit"
	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/authz"
	"github.com/sitedesk/sitedesk/pkg/httputil"
	"github.com/sitedesk/sitedesk/pkg/middleware"
	"github.com/sitedesk/sitedesk/pkg/observability"
	"github.com/sitedesk/sitedesk/pkg/orgs"
)

// Options collects the collaborators the API server composes.
type Options struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics // nil disables request instrumentation

	// Identity resolution. Roles defaults to RoleCache, then RoleStore.
	Resolver auth.Resolver
	Roles    middleware.RoleDirectory
	Members  middleware.AccessDirectory

	RoleStore  *authz.Store
	RoleCache  *authz.RoleCache // optional; invalidated by role writes
	OrgService *orgs.Service

	Auditor    audit.Logger // nil disables the audit trail
	AuditStore audit.Store  // nil disables the audit query endpoints
	AuditAll   bool         // log every request, not just mutations

	RateLimit func(http.Handler) http.Handler // nil disables rate limiting

	Tracing bool // wrap the router in otelhttp spans
}

// Server composes the role, membership and audit handlers behind a shared
// middleware chain and a per-route guard table. All routes mount under
// /api/v1.
type Server struct {
	router  *mux.Router
	api     *mux.Router
	handler http.Handler
	logger  *observability.Logger
	guard   *authz.Guard

	// protected is the chain every guarded route runs: full identity
	// resolution, then rate limiting and audit logging. bootstrap resolves
	// only the raw identity, for routes a non-member must be able to reach.
	protected []func(http.Handler) http.Handler
	bootstrap []func(http.Handler) http.Handler

	roleHandlers  *authz.Handlers
	orgHandlers   *orgs.Handlers
	auditHandlers *audit.Handlers
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		api:    router.PathPrefix("/api/v1").Subrouter(),
		logger: opts.Logger,
		guard:  authz.NewGuard(opts.Metrics),
	}

	s.roleHandlers = authz.NewHandlers(opts.RoleStore, opts.Auditor)
	if opts.RoleCache != nil {
		s.roleHandlers.WithRoleCache(opts.RoleCache)
	}
	s.orgHandlers = orgs.NewHandlers(opts.OrgService, opts.Auditor)
	if opts.AuditStore != nil {
		s.auditHandlers = audit.NewHandlers(opts.AuditStore)
	}

	s.setupMiddleware(opts)
	s.setupRoutes(opts)

	s.handler = s.router
	if opts.Tracing {
		s.handler = otelhttp.NewHandler(s.router, "sitedesk-api")
	}
	return s
}

// setupMiddleware installs the shared chains. Request ids, metrics and
// panic recovery run router-wide so every request is tagged and counted
// and a panicking handler answers with a 500 instead of killing the
// process. Identity, rate limiting and audit compose per route, in that
// order: the rate limiter keys member buckets off the resolved identity,
// and audit events carry the actor. Bootstrap routes resolve only the raw
// caller.
func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(httputil.RequestIDMiddleware)
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	// Inside the metrics middleware so a recovered panic still counts as
	// a 500.
	s.router.Use(observability.PanicRecoveryMiddleware(s.logger))

	roles := opts.Roles
	if roles == nil {
		if opts.RoleCache != nil {
			roles = opts.RoleCache
		} else {
			roles = opts.RoleStore
		}
	}
	s.protected = []func(http.Handler) http.Handler{
		middleware.IdentityMiddleware(opts.Resolver, roles, opts.Members, opts.Metrics),
	}
	s.bootstrap = []func(http.Handler) http.Handler{
		middleware.RequireIdentity(opts.Resolver, opts.Metrics),
	}

	if opts.RateLimit != nil {
		s.protected = append(s.protected, opts.RateLimit)
		s.bootstrap = append(s.bootstrap, opts.RateLimit)
	}
	if opts.Auditor != nil {
		trail := audit.NewMiddleware(opts.Auditor, opts.AuditAll).Handler
		s.protected = append(s.protected, trail)
		s.bootstrap = append(s.bootstrap, trail)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "resource not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, httputil.CodeBadRequest, "method not allowed")
	})
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(opts Options) {
	g := s.guard
	memberLimit := middleware.LimitCheckMiddleware(opts.OrgService, orgs.LimitMembers)
	roleLimit := middleware.LimitCheckMiddleware(opts.OrgService, orgs.LimitCustomRoles)

	// Role routes
	s.handle("POST", "/roles", s.roleHandlers.CreateRole,
		g.RequirePermission(authz.ResourceRole, authz.ActionCreate), roleLimit)
	s.handle("GET", "/roles", s.roleHandlers.ListRoles,
		g.RequirePermission(authz.ResourceRole, authz.ActionRead))
	s.handle("GET", "/roles/{id}", s.roleHandlers.GetRole,
		g.RequirePermission(authz.ResourceRole, authz.ActionRead))
	s.handle("PUT", "/roles/{id}", s.roleHandlers.UpdateRole,
		g.RequirePermission(authz.ResourceRole, authz.ActionUpdate))
	s.handle("DELETE", "/roles/{id}", s.roleHandlers.DeleteRole,
		g.RequirePermission(authz.ResourceRole, authz.ActionDelete))

	// Permission catalog and introspection; open to any resolved identity
	s.handle("GET", "/permissions", s.roleHandlers.ListPermissions)
	s.handle("POST", "/access/check", s.roleHandlers.CheckAccess)
	s.handle("GET", "/me/permissions", s.roleHandlers.MyPermissions)

	// Member routes
	s.handle("GET", "/members", s.orgHandlers.ListMembers,
		g.RequirePermission(authz.ResourceMember, authz.ActionRead))
	s.handle("POST", "/members", s.orgHandlers.AddMember,
		g.RequirePermission(authz.ResourceMember, authz.ActionCreate), memberLimit)
	s.handle("GET", "/members/{id}", s.orgHandlers.GetMember,
		g.RequirePermission(authz.ResourceMember, authz.ActionRead))
	s.handle("PUT", "/members/{id}", s.orgHandlers.ChangeMemberRole,
		g.RequirePermission(authz.ResourceMember, authz.ActionUpdate))
	s.handle("DELETE", "/members/{id}", s.orgHandlers.RemoveMember,
		g.RequirePermission(authz.ResourceMember, authz.ActionDelete))

	// Project access routes
	s.handle("GET", "/members/{id}/projects", s.orgHandlers.ListMemberProjects,
		g.RequirePermission(authz.ResourceMember, authz.ActionRead))
	s.handle("POST", "/members/{id}/projects", s.orgHandlers.GrantProjectAccess,
		g.RequirePermission(authz.ResourceMember, authz.ActionUpdate))
	s.handle("DELETE", "/members/{id}/projects/{projectId}", s.orgHandlers.RevokeProjectAccess,
		g.RequirePermission(authz.ResourceMember, authz.ActionUpdate))
	s.handle("GET", "/projects/{projectId}/members", s.orgHandlers.ListProjectMembers,
		g.RequireResourceAccess(authz.ResourceProject, authz.ActionRead))

	// Invitation routes. Accepting runs on the bootstrap chain: the caller
	// is usually not yet a member of the inviting organization.
	s.handle("GET", "/invitations", s.orgHandlers.ListInvitations,
		g.RequirePermission(authz.ResourceMember, authz.ActionRead))
	s.handle("POST", "/invitations", s.orgHandlers.CreateInvitation,
		g.RequirePermission(authz.ResourceMember, authz.ActionCreate), memberLimit)
	s.handleBootstrap("POST", "/invitations/accept", s.orgHandlers.AcceptInvitation)
	s.handle("DELETE", "/invitations/{id}", s.orgHandlers.RevokeInvitation,
		g.RequirePermission(authz.ResourceMember, authz.ActionDelete))

	// Plan limit routes
	s.handle("GET", "/limits", s.orgHandlers.GetLimits,
		g.RequireRole(authz.RoleAdmin, authz.RoleManager))
	s.handle("PUT", "/limits", s.orgHandlers.SetLimits,
		g.RequireRole(authz.RoleAdmin))

	// Audit trail routes (if an audit store is available)
	if s.auditHandlers != nil {
		s.handle("GET", "/audit/events", s.auditHandlers.ListEvents,
			g.RequireRole(authz.RoleAdmin))
		s.handle("GET", "/audit/events/{id}", s.auditHandlers.GetEvent,
			g.RequireRole(authz.RoleAdmin))
		s.handle("GET", "/audit/export", s.auditHandlers.ExportEvents,
			g.RequireRole(authz.RoleAdmin))
		s.handle("GET", "/audit/stats", s.auditHandlers.GetStats,
			g.RequireRole(authz.RoleAdmin))
	}
}

// handle registers a route behind the protected chain and its guards.
// Guards apply left to right, so the first guard sees the request first.
func (s *Server) handle(method, path string, fn http.HandlerFunc, guards ...func(http.Handler) http.Handler) {
	s.api.Handle(path, wrap(fn, s.protected, guards)).Methods(method)
}

// handleBootstrap registers a route behind the bootstrap chain. No guards:
// the handler itself decides what the resolved identity may do.
func (s *Server) handleBootstrap(method, path string, fn http.HandlerFunc) {
	s.api.Handle(path, wrap(fn, s.bootstrap, nil)).Methods(method)
}

func wrap(fn http.HandlerFunc, chain, guards []func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = fn
	for i := len(guards) - 1; i >= 0; i-- {
		h = guards[i](h)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler returns the root handler, including the tracing wrapper when
// enabled. Use this rather than the Server itself when mounting under a
// prefix.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HealthRouter builds the sidecar router served on the health port. It stays
// outside the identity chain so probes never need credentials.
func HealthRouter(checker *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	observability.RegisterHealthRoutes(router, checker)
	if registry != nil {
		observability.RegisterMetricsEndpoint(router, registry)
	}
	return router
}
