package orgs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitedesk/sitedesk/pkg/authz"
)

var serviceTracer = otel.Tracer("sitedesk/orgs/service")

// RoleResolver validates role references against the role registry.
// *authz.Store satisfies it.
type RoleResolver interface {
	GetRole(ctx context.Context, roleID int64) (*authz.Role, error)
	GetRoleByName(ctx context.Context, organizationID int64, name string) (*authz.Role, error)
}

// Service wires the membership store, the access cache and the role
// registry together: role references are validated, plan ceilings are
// enforced, and every membership or access write invalidates the
// member-access cache for the affected user.
type Service struct {
	store *Store
	cache *AccessCache
	roles RoleResolver
}

// NewService creates the membership service. cache may be nil, which
// disables caching but keeps every path working against the store.
func NewService(store *Store, cache *AccessCache, roles RoleResolver) *Service {
	return &Service{store: store, cache: cache, roles: roles}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return err
}

// resolveRole checks that a role exists and is usable by the organization:
// system roles always, custom roles only inside their own org.
func (s *Service) resolveRole(ctx context.Context, organizationID, roleID int64) (*authz.Role, error) {
	role, err := s.roles.GetRole(ctx, roleID)
	if errors.Is(err, authz.ErrNotFound) {
		return nil, ErrRoleNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	if role.OrganizationID != nil && *role.OrganizationID != organizationID {
		return nil, ErrRoleNotAvailable
	}
	return role, nil
}

func (s *Service) invalidateAccess(ctx context.Context, organizationID, userID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, organizationID, userID)
	}
}

// AddMember creates a membership after validating the role reference and
// the member ceiling.
func (s *Service) AddMember(ctx context.Context, input NewMember) (*Member, error) {
	ctx, span := serviceTracer.Start(ctx, "AddMember",
		trace.WithAttributes(
			attribute.Int64("organization_id", input.OrganizationID),
			attribute.Int64("user_id", input.UserID),
		),
	)
	defer span.End()

	role, err := s.resolveRole(ctx, input.OrganizationID, input.RoleID)
	if err != nil {
		return nil, spanError(span, err)
	}
	if err := s.store.CheckMemberLimit(ctx, input.OrganizationID); err != nil {
		return nil, spanError(span, err)
	}

	member, err := s.store.AddMember(ctx, input)
	if err != nil {
		return nil, spanError(span, err)
	}
	member.RoleName = role.Name

	s.invalidateAccess(ctx, member.OrganizationID, member.UserID)
	return member, nil
}

// GetMember retrieves a member by id within an organization
func (s *Service) GetMember(ctx context.Context, organizationID, memberID int64) (*Member, error) {
	return s.store.GetMember(ctx, organizationID, memberID)
}

// GetMemberByUser retrieves a user's membership in an organization
func (s *Service) GetMemberByUser(ctx context.Context, organizationID, userID int64) (*Member, error) {
	return s.store.GetMemberByUser(ctx, organizationID, userID)
}

// ListMembers lists an organization's members
func (s *Service) ListMembers(ctx context.Context, organizationID int64, opts ListOptions) ([]*Member, int, error) {
	return s.store.ListMembers(ctx, organizationID, opts)
}

// ChangeMemberRole assigns a different role to a member
func (s *Service) ChangeMemberRole(ctx context.Context, organizationID, memberID, roleID int64) (*Member, error) {
	ctx, span := serviceTracer.Start(ctx, "ChangeMemberRole",
		trace.WithAttributes(
			attribute.Int64("organization_id", organizationID),
			attribute.Int64("member_id", memberID),
			attribute.Int64("role_id", roleID),
		),
	)
	defer span.End()

	if _, err := s.resolveRole(ctx, organizationID, roleID); err != nil {
		return nil, spanError(span, err)
	}
	if err := s.store.ChangeMemberRole(ctx, organizationID, memberID, roleID); err != nil {
		return nil, spanError(span, err)
	}

	member, err := s.store.GetMember(ctx, organizationID, memberID)
	if err != nil {
		return nil, spanError(span, err)
	}
	return member, nil
}

// RemoveMember deletes a membership with its project grants and drops the
// user's cached access.
func (s *Service) RemoveMember(ctx context.Context, organizationID, memberID int64) error {
	ctx, span := serviceTracer.Start(ctx, "RemoveMember",
		trace.WithAttributes(
			attribute.Int64("organization_id", organizationID),
			attribute.Int64("member_id", memberID),
		),
	)
	defer span.End()

	member, err := s.store.GetMember(ctx, organizationID, memberID)
	if err != nil {
		return spanError(span, err)
	}
	if err := s.store.RemoveMember(ctx, organizationID, memberID); err != nil {
		return spanError(span, err)
	}

	s.invalidateAccess(ctx, organizationID, member.UserID)
	return nil
}

// GrantProjectAccess gives a member access to one project
func (s *Service) GrantProjectAccess(ctx context.Context, organizationID, memberID, projectID int64, grantedBy *int64) (*ProjectGrant, error) {
	ctx, span := serviceTracer.Start(ctx, "GrantProjectAccess",
		trace.WithAttributes(
			attribute.Int64("organization_id", organizationID),
			attribute.Int64("member_id", memberID),
			attribute.Int64("project_id", projectID),
		),
	)
	defer span.End()

	if projectID <= 0 {
		return nil, spanError(span, fmt.Errorf("%w: project id is required", ErrValidation))
	}

	member, err := s.store.GetMember(ctx, organizationID, memberID)
	if err != nil {
		return nil, spanError(span, err)
	}
	grant, err := s.store.GrantProjectAccess(ctx, memberID, projectID, grantedBy)
	if err != nil {
		return nil, spanError(span, err)
	}

	s.invalidateAccess(ctx, organizationID, member.UserID)
	return grant, nil
}

// RevokeProjectAccess removes a member's grant for one project
func (s *Service) RevokeProjectAccess(ctx context.Context, organizationID, memberID, projectID int64) error {
	ctx, span := serviceTracer.Start(ctx, "RevokeProjectAccess",
		trace.WithAttributes(
			attribute.Int64("organization_id", organizationID),
			attribute.Int64("member_id", memberID),
			attribute.Int64("project_id", projectID),
		),
	)
	defer span.End()

	member, err := s.store.GetMember(ctx, organizationID, memberID)
	if err != nil {
		return spanError(span, err)
	}
	if err := s.store.RevokeProjectAccess(ctx, memberID, projectID); err != nil {
		return spanError(span, err)
	}

	s.invalidateAccess(ctx, organizationID, member.UserID)
	return nil
}

// ListMemberProjects lists a member's project grants
func (s *Service) ListMemberProjects(ctx context.Context, organizationID, memberID int64) ([]*ProjectGrant, error) {
	if _, err := s.store.GetMember(ctx, organizationID, memberID); err != nil {
		return nil, err
	}
	return s.store.ListMemberProjects(ctx, memberID)
}

// ListProjectMembers lists the members holding a grant for the project
func (s *Service) ListProjectMembers(ctx context.Context, organizationID, projectID int64) ([]*Member, error) {
	return s.store.ListProjectMembers(ctx, organizationID, projectID)
}

// CreateInvitation issues an invitation after validating that the named
// role is available to the organization and the member ceiling has
// headroom. The ceiling is rechecked at accept time.
func (s *Service) CreateInvitation(ctx context.Context, input NewInvitation) (*Invitation, error) {
	ctx, span := serviceTracer.Start(ctx, "CreateInvitation",
		trace.WithAttributes(attribute.Int64("organization_id", input.OrganizationID)),
	)
	defer span.End()

	if strings.TrimSpace(input.RoleName) == "" {
		return nil, spanError(span, fmt.Errorf("%w: role name is required", ErrValidation))
	}
	_, err := s.roles.GetRoleByName(ctx, input.OrganizationID, input.RoleName)
	if errors.Is(err, authz.ErrNotFound) {
		return nil, spanError(span, ErrRoleNotAvailable)
	}
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to resolve invitation role: %w", err))
	}
	if err := s.store.CheckMemberLimit(ctx, input.OrganizationID); err != nil {
		return nil, spanError(span, err)
	}

	inv, err := s.store.CreateInvitation(ctx, input)
	if err != nil {
		return nil, spanError(span, err)
	}
	return inv, nil
}

// AcceptInvitation turns a pending invitation into a membership for the
// accepting user. The invitation's role name is resolved at accept time, so
// an invitation outlives role edits but dies with a role deletion.
func (s *Service) AcceptInvitation(ctx context.Context, token string, userID int64) (*Member, error) {
	ctx, span := serviceTracer.Start(ctx, "AcceptInvitation",
		trace.WithAttributes(attribute.Int64("user_id", userID)),
	)
	defer span.End()

	if strings.TrimSpace(token) == "" {
		return nil, spanError(span, fmt.Errorf("%w: token is required", ErrValidation))
	}

	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, spanError(span, err)
	}
	if inv.AcceptedAt != nil {
		return nil, spanError(span, ErrInvitationAccepted)
	}
	if time.Now().UTC().After(inv.ExpiresAt) {
		return nil, spanError(span, ErrInvitationExpired)
	}

	role, err := s.roles.GetRoleByName(ctx, inv.OrganizationID, inv.RoleName)
	if errors.Is(err, authz.ErrNotFound) {
		return nil, spanError(span, ErrRoleNotAvailable)
	}
	if err != nil {
		return nil, spanError(span, fmt.Errorf("failed to resolve invitation role: %w", err))
	}
	if err := s.store.CheckMemberLimit(ctx, inv.OrganizationID); err != nil {
		return nil, spanError(span, err)
	}

	member, err := s.store.AcceptInvitation(ctx, inv.ID, NewMember{
		OrganizationID: inv.OrganizationID,
		UserID:         userID,
		RoleID:         role.ID,
		InvitedBy:      inv.InvitedBy,
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	member.RoleName = role.Name

	s.invalidateAccess(ctx, member.OrganizationID, member.UserID)
	return member, nil
}

// ListInvitations lists an organization's pending invitations
func (s *Service) ListInvitations(ctx context.Context, organizationID int64) ([]*Invitation, error) {
	return s.store.ListInvitations(ctx, organizationID)
}

// RevokeInvitation deletes a pending invitation
func (s *Service) RevokeInvitation(ctx context.Context, organizationID, invitationID int64) error {
	return s.store.RevokeInvitation(ctx, organizationID, invitationID)
}

// CleanupExpiredInvitations removes pending invitations whose lifetime has
// passed and reports how many were deleted.
func (s *Service) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	ctx, span := serviceTracer.Start(ctx, "CleanupExpiredInvitations")
	defer span.End()

	deleted, err := s.store.CleanupExpiredInvitations(ctx)
	if err != nil {
		return 0, spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("deleted", deleted))
	return deleted, nil
}

// GetLimits returns an organization's plan ceilings
func (s *Service) GetLimits(ctx context.Context, organizationID int64) (*Limits, error) {
	return s.store.GetLimits(ctx, organizationID)
}

// SetLimits creates or replaces an organization's plan ceilings
func (s *Service) SetLimits(ctx context.Context, organizationID, maxMembers, maxCustomRoles int64) (*Limits, error) {
	return s.store.SetLimits(ctx, organizationID, maxMembers, maxCustomRoles)
}

// GetUsage reports current consumption against the plan ceilings
func (s *Service) GetUsage(ctx context.Context, organizationID int64) (*Usage, error) {
	return s.store.GetUsage(ctx, organizationID)
}

// CheckMemberLimit reports whether the organization may add another member
func (s *Service) CheckMemberLimit(ctx context.Context, organizationID int64) error {
	return s.store.CheckMemberLimit(ctx, organizationID)
}

// CheckRoleLimit reports whether the organization may add another custom
// role.
func (s *Service) CheckRoleLimit(ctx context.Context, organizationID int64) error {
	return s.store.CheckRoleLimit(ctx, organizationID)
}

// MemberAccess resolves a user's membership id and accessible project ids,
// through the cache when one is configured. A zero member id with a nil
// error means the user is not a member.
func (s *Service) MemberAccess(ctx context.Context, organizationID, userID int64) (int64, []int64, error) {
	if s.cache != nil {
		return s.cache.MemberAccess(ctx, organizationID, userID)
	}
	return s.store.MemberAccess(ctx, organizationID, userID)
}
