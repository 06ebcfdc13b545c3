package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/authz"
	"github.com/sitedesk/sitedesk/pkg/contextkeys"
	"github.com/sitedesk/sitedesk/pkg/httputil"
	"github.com/sitedesk/sitedesk/pkg/observability"
)

// RoleDirectory resolves role names against the role registry. Both
// *authz.Store and *authz.RoleCache satisfy it.
type RoleDirectory interface {
	GetRoleByName(ctx context.Context, organizationID int64, name string) (*authz.Role, error)
}

// AccessDirectory resolves a member's row id and accessible project id set.
// The identity middleware consults it only when the resolved role carries an
// assigned-scope resource. Implementations report an unknown membership with
// a zero member id and a nil error; a non-nil error means the lookup itself
// failed and must fail the request.
type AccessDirectory interface {
	MemberAccess(ctx context.Context, organizationID, userID int64) (int64, []int64, error)
}

// IdentityMiddleware resolves the caller's identity and attaches the role
// and project-access context every guard downstream depends on. It runs once
// per request, before any guard.
//
// Resolution is fail-closed: a request without a usable organization and
// user identity is rejected with 403 MISSING_ORG_CONTEXT before any handler
// runs. A credential that names no role falls back to the least-privileged
// system role, CLIENT. The member's accessible-project set is loaded only
// when the resolved role has an assigned-scope resource; roles that see
// every project (or only their own records) skip that lookup entirely.
//
// Registry or membership lookup failures surface as 500s. They are never
// swallowed: a request that cannot be scoped must not be let through with a
// guessed scope.
func IdentityMiddleware(resolver auth.Resolver, roles RoleDirectory, members AccessDirectory, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrInvalidToken):
					recordResolution(metrics, "invalid_token")
					httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				case errors.Is(err, auth.ErrMissingContext):
					recordResolution(metrics, "missing_context")
					httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				default:
					recordResolution(metrics, "error")
					httputil.WriteInternalError(w, err)
				}
				return
			}

			roleName := identity.RoleName
			if roleName == "" {
				roleName = authz.RoleClient
			}

			ctx := r.Context()
			role, err := roles.GetRoleByName(ctx, identity.OrganizationID, roleName)
			if err != nil {
				// A role name the registry does not know is broken tenant
				// context, not a server fault.
				if errors.Is(err, authz.ErrNotFound) {
					recordResolution(metrics, "missing_context")
					httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
					return
				}
				recordResolution(metrics, "error")
				observability.FromContext(ctx).WithError(err).Error("role lookup failed during identity resolution")
				httputil.WriteInternalError(w, err)
				return
			}

			ctx = auth.WithIdentity(ctx, identity)
			ctx = contextkeys.WithRole(ctx, role)

			if role.HasAssignedScope() {
				memberID, projectIDs, err := members.MemberAccess(ctx, identity.OrganizationID, identity.UserID)
				if err != nil {
					recordResolution(metrics, "error")
					observability.FromContext(ctx).WithError(err).Error("member lookup failed during identity resolution")
					httputil.WriteInternalError(w, err)
					return
				}
				if memberID == 0 {
					recordResolution(metrics, "missing_context")
					httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
					return
				}
				ctx = contextkeys.WithMemberID(ctx, memberID)
				ctx = contextkeys.WithProjectAccess(ctx, projectIDs)
			}

			recordResolution(metrics, "resolved")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity resolves the caller's identity and attaches it to the
// context without loading role or membership state. Bootstrap routes use it
// where the caller may not yet be a member of the organization, such as
// accepting an invitation; every other route goes through IdentityMiddleware.
func RequireIdentity(resolver auth.Resolver, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrInvalidToken):
					recordResolution(metrics, "invalid_token")
					httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				case errors.Is(err, auth.ErrMissingContext):
					recordResolution(metrics, "missing_context")
					httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				default:
					recordResolution(metrics, "error")
					httputil.WriteInternalError(w, err)
				}
				return
			}

			recordResolution(metrics, "resolved")
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

func recordResolution(metrics *observability.Metrics, outcome string) {
	if metrics != nil {
		metrics.RecordIdentityResolution(outcome)
	}
}
