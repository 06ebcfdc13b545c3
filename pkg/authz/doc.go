// Package authz provides role-based access control for the SiteDesk
// construction management platform.
//
// # Overview
//
// This package implements a multi-tenant authorization system built from a
// fixed permission catalog, a role registry, a pure access evaluator, route
// guard middleware and a query filter builder. Every decision fails closed:
// an unresolved role, an unknown resource or a missing scope entry denies.
//
// # Architecture
//
// The system consists of five key components:
//
//  1. Catalog: the closed vocabulary of permissions, each a (resource,
//     action) pair with a stable id and a UI category
//  2. Registry (Store): system and custom roles with per-role permission
//     sets and per-resource scope tables
//  3. Evaluator: pure functions answering "may this role do this" and
//     "how broadly"
//  4. Guards: route middleware enforcing role, permission and project
//     access requirements
//  5. ProjectFilter: translates a role's project breadth into a list
//     restriction for handlers
//
// # Resources and Actions
//
// Resources define what can be controlled:
//
//	ResourceProject   - Construction project
//	ResourceStage     - Work stage within a project
//	ResourceExpense   - Expense record
//	ResourcePayment   - Client payment
//	ResourceAdvance   - Cash advance to workers
//	ResourceMaterial  - Material purchase
//	ResourceDocument  - Project document
//	ResourceReport    - Financial and progress reports
//	ResourceMember    - Organization membership
//	ResourceRole      - Role management
//
// Actions define what can be done:
//
//	ActionCreate   - Create new resource
//	ActionRead     - View resource
//	ActionUpdate   - Modify resource
//	ActionDelete   - Remove resource
//	ActionApprove  - Approve a pending record
//	ActionExport   - Export data
//
// # Scopes
//
// Holding a permission says what a role may do; the scope table says how
// far that reach extends:
//
//	ScopeAll       - every project in the organization
//	ScopeAssigned  - only projects granted through project access rows
//	ScopeOwn       - only records the member created
//	ScopeNone      - nowhere, regardless of the permission set
//
// Scope none always denies. A role granted expense:read with scope none on
// expenses cannot read any expense.
//
// # System Roles
//
// Five system roles are seeded at setup and shared by all organizations:
//
//	ADMIN       - every permission, scope all
//	MANAGER     - day-to-day management, scope all, cannot manage roles
//	ACCOUNTANT  - finance resources incl. approvals, scope all
//	SUPERVISOR  - site operations on assigned projects
//	CLIENT      - read-only view of assigned projects
//
// System role permission sets and scope tables may be edited; their names
// may not, and they can never be deleted. Organizations add custom roles on
// top:
//
//	role, err := store.CreateRole(ctx, authz.NewRole{
//		OrganizationID: orgID,
//		Name:           "Site Auditor",
//		PermissionIDs:  []int64{2, 14, 28},
//		Scopes: authz.ScopeTable{
//			authz.ResourceProject: authz.ScopeAssigned,
//			authz.ResourceExpense: authz.ScopeAssigned,
//		},
//	})
//
// # Evaluation
//
// The evaluator is pure: given the same role it always returns the same
// answer, and it never touches the database.
//
//	if authz.Allowed(role, authz.ResourceExpense, authz.ActionApprove) {
//		// role holds expense:approve with a usable scope
//	}
//	scope := authz.ScopeFor(role, authz.ResourceProject)
//
// # Guards
//
// Guards wrap route handlers. They read the role the identity middleware
// resolved onto the request context:
//
//	guard := authz.NewGuard(metrics)
//	router.Handle("/projects/{projectId}/expenses",
//		guard.RequireResourceAccess(authz.ResourceExpense, authz.ActionRead)(listExpenses),
//	).Methods("GET")
//
// A failed guard writes the standard response envelope with a machine
// readable code: FORBIDDEN, ACTION_NOT_ALLOWED, NO_PROJECT_ACCESS or
// MISSING_ORG_CONTEXT.
//
// # List Filtering
//
// Handlers that list project-scoped records restrict their queries with the
// filter derived from the caller's role:
//
//	filter := authz.ProjectFilterFromContext(r.Context())
//	cond, args := filter.SQLCondition("project_id", 1)
//
// A nil filter means unrestricted; an empty filter matches nothing. The
// distinction matters: a scoped member with no project grants must receive
// an empty list, not the whole table.
//
// # Catalog Loading
//
// The catalog ships with a built-in permission set and can be replaced from
// a YAML file, including at runtime via fsnotify:
//
//	catalog, err := authz.LoadCatalogFile("/etc/sitedesk/permissions.yaml")
//	go catalog.Watch(ctx, path, func(err error) { ... })
//
// Role writes that reference unknown permission ids are rejected or
// silently dropped depending on the configured UnknownPermissionMode.
//
// # Related Packages
//
//   - pkg/auth: request identity resolution (token claims)
//   - pkg/middleware: identity middleware that loads the role and project
//     access onto the request context
//   - pkg/orgs: organization membership and project access administration
//   - pkg/audit: audit logging of role changes and denied requests
package authz
