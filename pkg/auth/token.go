package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload carried by SiteDesk access tokens. The org and
// user ids identify the tenancy; the role claim is advisory and names the
// member's role at the time the token was minted. Role changes take effect on
// the next lookup, not the next request, so the claim may lag the registry.
type Claims struct {
	OrganizationID int64  `json:"org_id"`
	UserID         int64  `json:"user_id"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints signed access tokens. It exists mainly for the invitation
// acceptance flow and for tests; verification lives in TokenResolver.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer returns an issuer signing with HMAC-SHA256 over secret.
// Tokens expire after ttl.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a token binding userID to organizationID with the given role
// name. The role may be empty, in which case membership lookup decides.
func (i *TokenIssuer) Issue(organizationID, userID int64, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		OrganizationID: organizationID,
		UserID:         userID,
		Role:           role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			Subject:   fmt.Sprintf("%d", userID),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
