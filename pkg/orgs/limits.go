package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetLimits returns an organization's plan ceilings, falling back to the
// defaults when no org_limits row exists.
func (s *Store) GetLimits(ctx context.Context, organizationID int64) (*Limits, error) {
	var limits Limits
	err := s.db.QueryRowContext(ctx,
		`SELECT organization_id, max_members, max_custom_roles, updated_at
		FROM org_limits WHERE organization_id = $1`,
		organizationID,
	).Scan(&limits.OrganizationID, &limits.MaxMembers, &limits.MaxCustomRoles, &limits.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultLimits(organizationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get limits: %w", err)
	}
	return &limits, nil
}

// SetLimits creates or replaces an organization's plan ceilings
func (s *Store) SetLimits(ctx context.Context, organizationID, maxMembers, maxCustomRoles int64) (*Limits, error) {
	if organizationID <= 0 {
		return nil, fmt.Errorf("%w: organization id is required", ErrValidation)
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO org_limits (organization_id, max_members, max_custom_roles, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id) DO UPDATE SET
			max_members = excluded.max_members,
			max_custom_roles = excluded.max_custom_roles,
			updated_at = excluded.updated_at`,
		organizationID, maxMembers, maxCustomRoles, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set limits: %w", err)
	}

	return &Limits{
		OrganizationID: organizationID,
		MaxMembers:     maxMembers,
		MaxCustomRoles: maxCustomRoles,
		UpdatedAt:      now,
	}, nil
}

func (s *Store) countMembers(ctx context.Context, organizationID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM org_members WHERE organization_id = $1`,
		organizationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// Custom roles carry their owning organization; system roles have none and
// never count against the ceiling.
func (s *Store) countCustomRoles(ctx context.Context, organizationID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM roles WHERE organization_id = $1`,
		organizationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count custom roles: %w", err)
	}
	return count, nil
}

// GetUsage reports current consumption against the plan ceilings
func (s *Store) GetUsage(ctx context.Context, organizationID int64) (*Usage, error) {
	members, err := s.countMembers(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	customRoles, err := s.countCustomRoles(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return &Usage{Members: members, CustomRoles: customRoles}, nil
}

// CheckMemberLimit returns a *LimitExceededError when the organization has
// no headroom for another member.
func (s *Store) CheckMemberLimit(ctx context.Context, organizationID int64) error {
	limits, err := s.GetLimits(ctx, organizationID)
	if err != nil {
		return err
	}
	if limits.MaxMembers <= 0 {
		return nil
	}

	current, err := s.countMembers(ctx, organizationID)
	if err != nil {
		return err
	}
	if current >= limits.MaxMembers {
		return &LimitExceededError{Resource: LimitMembers, Current: current, Limit: limits.MaxMembers}
	}
	return nil
}

// CheckRoleLimit returns a *LimitExceededError when the organization has no
// headroom for another custom role.
func (s *Store) CheckRoleLimit(ctx context.Context, organizationID int64) error {
	limits, err := s.GetLimits(ctx, organizationID)
	if err != nil {
		return err
	}
	if limits.MaxCustomRoles <= 0 {
		return nil
	}

	current, err := s.countCustomRoles(ctx, organizationID)
	if err != nil {
		return err
	}
	if current >= limits.MaxCustomRoles {
		return &LimitExceededError{Resource: LimitCustomRoles, Current: current, Limit: limits.MaxCustomRoles}
	}
	return nil
}
