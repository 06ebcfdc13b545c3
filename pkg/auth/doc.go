// Package auth establishes who is calling: which user, on behalf of which
// organization, carrying which role name. It owns the credential formats and
// nothing else; what the caller may do with that identity is decided by
// pkg/authz.
//
// # Overview
//
// Every API request is resolved to an Identity before any handler runs. The
// Resolver interface hides the credential format from the rest of the
// system:
//
//	type Resolver interface {
//		Resolve(r *http.Request) (*Identity, error)
//	}
//
// Two implementations ship with the package. TokenResolver verifies signed
// HMAC-SHA256 bearer tokens and is the production path. HeaderResolver
// trusts plain x-organization-id and x-user-id headers and exists for
// development setups and tests where minting tokens is friction.
//
// Swapping resolvers changes how identity is proven, never what happens
// next: the identity middleware in pkg/middleware consumes the same
// (*Identity, error) contract either way, and a resolution failure of any
// kind fails the request closed.
//
// # Tokens
//
// Access tokens are JWTs with three custom claims:
//
//	{
//		"org_id":  42,
//		"user_id": 7,
//		"role":    "SUPERVISOR"
//	}
//
// The role claim is a hint, not an authority. It names the member's role
// when the token was minted; the identity middleware re-reads the role's
// permissions from the registry on every request, so editing a role takes
// effect immediately while renames and reassignments take effect when the
// claim is next refreshed.
//
// TokenIssuer mints tokens for the invitation acceptance flow and for
// tests:
//
//	issuer := auth.NewTokenIssuer(secret, 24*time.Hour)
//	token, err := issuer.Issue(orgID, userID, "CLIENT")
//
// # Errors
//
// Resolution failures are deliberately coarse. ErrMissingContext covers
// every flavor of "we do not know who this is": no header, unparseable ids,
// a token without tenancy claims. ErrInvalidToken covers credentials that
// are present but unverifiable. Callers needing to distinguish the two can
// errors.Is against the sentinels, but the HTTP surface maps both to 403
// MISSING_ORG_CONTEXT so that probing requests learn nothing about why they
// were refused.
//
// # Related Packages
//
//   - pkg/middleware: runs a Resolver on every request and loads the role
//   - pkg/authz: decides what a resolved identity may do
//   - pkg/contextkeys: context keys the identity is stored under
package auth
