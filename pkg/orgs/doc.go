// Package orgs manages organization membership: member rows and their role
// assignment, per-member project access grants, invitations, and plan
// limits.
//
// # Overview
//
// A membership row (org_members) binds a user to an organization and to
// exactly one role from the role registry. Project access grants
// (project_access) hang off the membership and feed assigned-scope
// authorization decisions. Invitations let administrators pre-assign a role
// by name before the user exists as a member; plan limits cap how many
// members and custom roles an organization may hold.
//
// # Layering
//
//	Store        raw SQL over *sql.DB, sentinel errors, no policy
//	AccessCache  two-tier (LRU + Redis) cache for membership lookups
//	Service      role validation, ceiling enforcement, cache invalidation
//	Handlers     HTTP surface with the uniform response envelope
//
// Handlers and the identity middleware talk to Service; the sweeper daemon
// and tests may reach for Store directly.
//
// # Membership Lookups
//
// Service.MemberAccess resolves (organization, user) to the member id and
// the accessible project ids. The result is cached in a local expiring LRU
// backed by a shared Redis tier; every membership or access write
// invalidates both tiers for the affected user. Peer instances may serve a
// stale local entry for at most the L1 TTL. Absent memberships are never
// cached, so a freshly added member resolves on their next request.
//
// # Plan Limits
//
// CheckMemberLimit and CheckRoleLimit compare current usage against the
// organization's org_limits row, falling back to defaults when no row
// exists. A ceiling of zero or less disables that limit. Violations are
// reported as *LimitExceededError and map to LIMIT_EXCEEDED at the HTTP
// boundary.
package orgs
