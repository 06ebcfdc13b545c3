package orgs

import "errors"

// Sentinel errors returned by the membership store and service. Handlers
// map these onto envelope codes; anything else surfaces as an internal
// error.
var (
	ErrMemberNotFound     = errors.New("member not found")
	ErrMemberExists       = errors.New("user is already a member of this organization")
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationAccepted = errors.New("invitation has already been accepted")
	ErrAccessNotFound     = errors.New("project access not found")
	ErrAccessExists       = errors.New("project access already granted")
	ErrRoleNotAvailable   = errors.New("role is not available to this organization")
	ErrValidation         = errors.New("validation failed")
)
