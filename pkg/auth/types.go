package auth

import (
	"context"

	"github.com/sitedesk/sitedesk/pkg/contextkeys"
)

// Identity is the per-request tenancy context: which organization the
// request acts in, which user is acting, and the role name the credential
// carries. It says nothing about what the role may do; the authorization
// layer resolves that against the role registry.
type Identity struct {
	OrganizationID int64  `json:"organization_id"`
	UserID         int64  `json:"user_id"`
	RoleName       string `json:"role,omitempty"` // empty falls back to the default role
}

// FromContext returns the identity the middleware resolved for this
// request. The second return is false when no resolution ran.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity, ok
}

// WithIdentity stores the identity on the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}
