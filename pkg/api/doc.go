// Package api composes the HTTP REST API for the SiteDesk authorization
// service.
//
// # Overview
//
// This package wires the role, membership, invitation, plan limit and audit
// handlers behind a shared middleware chain and a per-route guard table. The
// handler packages (pkg/authz, pkg/orgs, pkg/audit) stay guard-free so each
// deployment can tune enforcement here in one place.
//
// # Architecture
//
// The server is built on gorilla/mux with every route mounted under
// /api/v1. Requests pass through the shared chain before any handler runs:
//
//   - Request id and metrics: every request is tagged and counted
//     (pkg/httputil, pkg/observability)
//   - Identity: resolves the caller, loads role and project access
//     (pkg/middleware)
//   - Rate limiting: keys member buckets off the resolved identity
//   - Audit: records mutations and denied requests with the actor
//     (pkg/audit)
//
// Each route then applies its own guards: permission checks, role checks,
// project access checks and plan limit checks. POST /api/v1/invitations/accept
// is the one bootstrap route: it resolves only the raw identity, because
// the caller is usually not yet a member of the inviting organization.
//
// # API Endpoints
//
// Role management:
//
//	POST   /api/v1/roles                              - Create custom role
//	GET    /api/v1/roles                              - List roles
//	GET    /api/v1/roles/{id}                         - Get role details
//	PUT    /api/v1/roles/{id}                         - Update role permissions
//	DELETE /api/v1/roles/{id}                         - Delete custom role
//	GET    /api/v1/permissions                        - List the permission catalog
//	POST   /api/v1/access/check                       - Evaluate a permission for the caller
//	GET    /api/v1/me/permissions                     - List the caller's permissions
//
// Membership and project access:
//
//	GET    /api/v1/members                            - List organization members
//	POST   /api/v1/members                            - Add member
//	GET    /api/v1/members/{id}                       - Get member details
//	PUT    /api/v1/members/{id}                       - Change member role
//	DELETE /api/v1/members/{id}                       - Remove member
//	GET    /api/v1/members/{id}/projects              - List member project access
//	POST   /api/v1/members/{id}/projects              - Grant project access
//	DELETE /api/v1/members/{id}/projects/{projectId}  - Revoke project access
//	GET    /api/v1/projects/{projectId}/members       - List members with access to a project
//
// Invitations and plan limits:
//
//	GET    /api/v1/invitations                        - List pending invitations
//	POST   /api/v1/invitations                        - Create invitation
//	POST   /api/v1/invitations/accept                 - Accept invitation by token
//	DELETE /api/v1/invitations/{id}                   - Revoke invitation
//	GET    /api/v1/limits                             - Get plan limits
//	PUT    /api/v1/limits                             - Set plan limits
//
// Audit trail (when an audit store is configured):
//
//	GET    /api/v1/audit/events                       - Search audit events
//	GET    /api/v1/audit/events/{id}                  - Get audit event
//	GET    /api/v1/audit/export                       - Export events as CSV or JSON
//	GET    /api/v1/audit/stats                        - Aggregate event counts
//
// # Usage Example
//
// Basic server setup:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	server := api.NewServer(api.Options{
//		Logger:     logger,
//		Metrics:    metrics,
//		Resolver:   auth.NewTokenResolver(cfg.Auth.JWTSecret),
//		Members:    accessCache,
//		RoleStore:  roleStore,
//		RoleCache:  roleCache,
//		OrgService: orgService,
//		Auditor:    auditLogger,
//		AuditStore: auditStore,
//	})
//	http.ListenAndServe(":8080", server)
//
// Health and metrics are served separately so probes bypass the identity
// chain:
//
//	health := api.HealthRouter(checker, registry)
//	http.ListenAndServe(":8081", health)
//
// # Related Packages
//
//   - pkg/authz: role registry, permission catalog and route guards
//   - pkg/orgs: membership, project access, invitations and plan limits
//   - pkg/audit: event logging, search and export
//   - pkg/middleware: identity resolution, rate and plan limit middleware
//   - pkg/observability: logging, metrics, health checks and tracing
package api
