package authz

import (
	"context"

	"github.com/sitedesk/sitedesk/pkg/contextkeys"
)

// RoleFromContext returns the role resolved by the identity middleware, or
// nil when no resolution ran. Guards and the filter builder treat nil as
// fully denied.
func RoleFromContext(ctx context.Context) *Role {
	role, _ := ctx.Value(contextkeys.RoleKey).(*Role)
	return role
}
