package middleware

import (
	"context"
	"net/http"

	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/httputil"
	"github.com/sitedesk/sitedesk/pkg/orgs"
)

// LimitsChecker verifies plan ceilings before an admission. *orgs.Service
// implements it.
type LimitsChecker interface {
	CheckMemberLimit(ctx context.Context, organizationID int64) error
	CheckRoleLimit(ctx context.Context, organizationID int64) error
}

// LimitCheckMiddleware enforces the organization's plan ceiling named by
// limitType (orgs.LimitMembers or orgs.LimitCustomRoles) on creation
// requests. Non-POST requests pass through untouched.
//
// IdentityMiddleware must run first: a creation request with no resolved
// identity is rejected rather than admitted unchecked.
func LimitCheckMiddleware(limits LimitsChecker, limitType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Ceilings gate creation only
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			identity, ok := auth.FromContext(r.Context())
			if !ok {
				httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
				return
			}

			var err error
			switch limitType {
			case orgs.LimitMembers:
				err = limits.CheckMemberLimit(r.Context(), identity.OrganizationID)
			case orgs.LimitCustomRoles:
				err = limits.CheckRoleLimit(r.Context(), identity.OrganizationID)
			}

			if err != nil {
				if orgs.IsLimitExceeded(err) {
					httputil.WriteError(w, http.StatusForbidden, httputil.CodeLimitExceeded, err.Error())
					return
				}
				httputil.WriteInternalError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
