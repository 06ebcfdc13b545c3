package orgs

import (
	"errors"
	"fmt"
	"time"
)

// Limit resource names reported by LimitExceededError. The limit-check
// middleware uses them to select which ceiling a route enforces.
const (
	LimitMembers     = "members"
	LimitCustomRoles = "custom_roles"
)

// Ceilings applied when an organization has no org_limits row.
const (
	DefaultMaxMembers     = 50
	DefaultMaxCustomRoles = 10
)

// DefaultInvitationTTL is how long an invitation stays acceptable when the
// caller does not choose a lifetime.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// Member is an organization membership row joined with the role name and
// the user's profile.
type Member struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	RoleID         int64     `json:"role_id"`
	RoleName       string    `json:"role_name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name,omitempty"`
	InvitedBy      *int64    `json:"invited_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewMember carries the fields of a membership creation
type NewMember struct {
	OrganizationID int64
	UserID         int64
	RoleID         int64
	InvitedBy      *int64
}

// ProjectGrant gives a member access to one project
type ProjectGrant struct {
	ID        int64     `json:"id"`
	MemberID  int64     `json:"member_id"`
	ProjectID int64     `json:"project_id"`
	GrantedBy *int64    `json:"granted_by,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// Invitation is a pending or accepted offer of membership. The role is
// recorded by name and resolved against the registry at accept time.
type Invitation struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	Email          string     `json:"email"`
	RoleName       string     `json:"role_name"`
	Token          string     `json:"token"`
	InvitedBy      *int64     `json:"invited_by,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// NewInvitation carries the fields of an invitation. A non-positive TTL
// falls back to DefaultInvitationTTL.
type NewInvitation struct {
	OrganizationID int64
	Email          string
	RoleName       string
	InvitedBy      *int64
	TTL            time.Duration
}

// Limits holds an organization's plan ceilings. A ceiling of zero or less
// disables that limit.
type Limits struct {
	OrganizationID int64     `json:"organization_id"`
	MaxMembers     int64     `json:"max_members"`
	MaxCustomRoles int64     `json:"max_custom_roles"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultLimits returns the ceilings used when an organization has no
// explicit limits row.
func DefaultLimits(organizationID int64) *Limits {
	return &Limits{
		OrganizationID: organizationID,
		MaxMembers:     DefaultMaxMembers,
		MaxCustomRoles: DefaultMaxCustomRoles,
	}
}

// Usage reports current consumption against the plan ceilings
type Usage struct {
	Members     int64 `json:"members"`
	CustomRoles int64 `json:"custom_roles"`
}

// ListOptions controls member listing
type ListOptions struct {
	Search string
	Limit  int
	Offset int
}

// LimitExceededError reports a plan ceiling that blocks a write
type LimitExceededError struct {
	Resource string `json:"resource"`
	Current  int64  `json:"current"`
	Limit    int64  `json:"limit"`
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit reached: %d of %d used", e.Resource, e.Current, e.Limit)
}

// IsLimitExceeded reports whether err is a plan ceiling rejection
func IsLimitExceeded(err error) bool {
	var limitErr *LimitExceededError
	return errors.As(err, &limitErr)
}
