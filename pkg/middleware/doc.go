// Package middleware provides the HTTP middleware chain for identity
// resolution, rate limiting, and organization plan ceilings.
//
// # CRITICAL: Middleware Ordering Requirements
//
// The chain has strict ordering dependencies. Incorrect order causes
// requests to be rejected with MISSING_ORG_CONTEXT even when the caller is
// fully credentialed, or rate limits to collapse onto the anonymous bucket.
//
// REQUIRED ORDERING (outer to inner):
//  1. httputil.RequestIDMiddleware - assigns the request id
//  2. IdentityMiddleware - resolves identity, role, and project access
//  3. Rate limiting - keys member buckets off the resolved identity
//  4. LimitCheckMiddleware - reads the organization id from the identity
//  5. authz guards - consume the role and project access set
//
// Example (correct):
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(middleware.IdentityMiddleware(resolver, roleCache, orgService, metrics))
//	router.Use(rateLimits.Handler)
//	roles := router.PathPrefix("/roles").Subrouter()
//	roles.Use(middleware.LimitCheckMiddleware(orgService, orgs.LimitCustomRoles))
//
// # Identity Resolution
//
// IdentityMiddleware is fail-closed: requests without a usable organization
// and user identity never reach a handler. The resolver is pluggable
// (auth.TokenResolver in production, auth.HeaderResolver behind a trusted
// proxy) so the rest of the chain is agnostic to the trust mechanism.
//
// # Rate Limiting
//
// Two variants with the same keying and response shape:
//
//	RateLimitMiddleware            in-memory token buckets, per process
//	DistributedRateLimitMiddleware Redis fixed-window, shared across instances
//
// Default (anonymous, per IP): 100 req/min, 10 burst. Per member
// (org + user): 1000 req/min, 50 burst. The Redis variant fails open when
// the backend is unreachable.
//
// # Related Packages
//
//   - pkg/auth: identity resolvers and token claims
//   - pkg/authz: role registry and request guards
//   - pkg/orgs: membership, project access, plan ceilings
package middleware
