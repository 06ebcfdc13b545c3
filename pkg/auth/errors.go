package auth

import "errors"

var (
	// ErrMissingContext reports that the request carries no usable
	// organization or user context. The middleware maps it to a 403 with
	// code MISSING_ORG_CONTEXT; requests are never let through without a
	// resolved tenancy.
	ErrMissingContext = errors.New("missing organization context")

	// ErrInvalidToken reports a credential that is present but unusable:
	// malformed, wrongly signed or expired.
	ErrInvalidToken = errors.New("invalid token")
)
