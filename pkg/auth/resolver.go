package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Resolver extracts the caller's identity from an incoming request. A nil
// error means both the organization and the user were identified; any other
// outcome is an error so callers cannot accidentally proceed without tenancy.
//
// Implementations must return ErrMissingContext (possibly wrapped) when the
// request carries no credential and ErrInvalidToken when it carries a broken
// one. The identity middleware maps both onto the same 403 response.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// TokenResolver resolves identities from signed bearer tokens in the
// Authorization header.
type TokenResolver struct {
	secret []byte
}

// NewTokenResolver returns a resolver verifying HMAC-SHA256 tokens signed
// with secret.
func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret)}
}

// Resolve parses and verifies the bearer token. An absent Authorization
// header is ErrMissingContext; a present but unverifiable token is
// ErrInvalidToken. Tokens whose claims lack a positive organization or user
// id verify fine but still resolve to ErrMissingContext, since nothing
// downstream can scope their requests.
func (t *TokenResolver) Resolve(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingContext
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidToken)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.OrganizationID <= 0 {
		return nil, fmt.Errorf("%w: token has no organization", ErrMissingContext)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: token has no user", ErrMissingContext)
	}

	return &Identity{
		OrganizationID: claims.OrganizationID,
		UserID:         claims.UserID,
		RoleName:       claims.Role,
	}, nil
}

// HeaderResolver resolves identities from plain x-organization-id,
// x-user-id and x-user-role headers. It performs no verification and is only
// suitable behind a trusted proxy or in development; production deployments
// should use TokenResolver.
type HeaderResolver struct{}

// Resolve reads the identity headers. Absent or malformed ids are
// ErrMissingContext: an unparseable header is treated the same as no header
// at all rather than guessed at.
func (HeaderResolver) Resolve(r *http.Request) (*Identity, error) {
	orgID, err := positiveHeader(r, "x-organization-id")
	if err != nil {
		return nil, err
	}
	userID, err := positiveHeader(r, "x-user-id")
	if err != nil {
		return nil, err
	}
	return &Identity{
		OrganizationID: orgID,
		UserID:         userID,
		RoleName:       r.Header.Get("x-user-role"),
	}, nil
}

func positiveHeader(r *http.Request, name string) (int64, error) {
	raw := r.Header.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s header missing", ErrMissingContext, name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s header invalid", ErrMissingContext, name)
	}
	return id, nil
}
