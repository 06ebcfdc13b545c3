package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateInvitation issues an invitation for an email address. Re-inviting
// the same address rotates the token and lifetime and clears any previous
// acceptance, so a removed member can be invited again.
func (s *Store) CreateInvitation(ctx context.Context, input NewInvitation) (*Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if strings.TrimSpace(input.RoleName) == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrValidation)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}

	var invitedBy sql.NullInt64
	if input.InvitedBy != nil {
		invitedBy = sql.NullInt64{Int64: *input.InvitedBy, Valid: true}
	}

	now := time.Now().UTC()
	inv := &Invitation{
		OrganizationID: input.OrganizationID,
		Email:          email,
		RoleName:       input.RoleName,
		Token:          uuid.New().String(),
		InvitedBy:      input.InvitedBy,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO org_invitations (organization_id, email, role_name, token, invited_by, expires_at, accepted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, $7)
		ON CONFLICT (organization_id, email) DO UPDATE SET
			role_name = excluded.role_name,
			token = excluded.token,
			invited_by = excluded.invited_by,
			expires_at = excluded.expires_at,
			accepted_at = NULL,
			created_at = excluded.created_at
		RETURNING id`,
		inv.OrganizationID, inv.Email, inv.RoleName, inv.Token, invitedBy, inv.ExpiresAt, inv.CreatedAt,
	).Scan(&inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return inv, nil
}

func scanInvitation(row interface{ Scan(dest ...interface{}) error }) (*Invitation, error) {
	var (
		inv        Invitation
		invitedBy  sql.NullInt64
		acceptedAt sql.NullTime
	)
	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.RoleName, &inv.Token,
		&invitedBy, &inv.ExpiresAt, &acceptedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		inv.InvitedBy = &invitedBy.Int64
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	return &inv, nil
}

const invitationColumns = `
	id, organization_id, email, role_name, token, invited_by, expires_at, accepted_at, created_at`

// GetInvitationByToken retrieves an invitation by its token
func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+invitationColumns+` FROM org_invitations WHERE token = $1`,
		token,
	)
	inv, err := scanInvitation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations lists an organization's pending invitations, newest first
func (s *Store) ListInvitations(ctx context.Context, organizationID int64) ([]*Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+invitationColumns+`
		FROM org_invitations
		WHERE organization_id = $1 AND accepted_at IS NULL
		ORDER BY created_at DESC, id DESC`,
		organizationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}

	return invitations, nil
}

// AcceptInvitation atomically creates the membership and marks the
// invitation accepted. The guarded update loses races cleanly: a second
// accept sees zero affected rows and rolls back.
func (s *Store) AcceptInvitation(ctx context.Context, invitationID int64, input NewMember) (*Member, error) {
	if input.OrganizationID <= 0 || input.UserID <= 0 || input.RoleID <= 0 {
		return nil, fmt.Errorf("%w: organization, user and role ids are required", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var invitedBy sql.NullInt64
	if input.InvitedBy != nil {
		invitedBy = sql.NullInt64{Int64: *input.InvitedBy, Valid: true}
	}

	now := time.Now().UTC()
	member := &Member{
		OrganizationID: input.OrganizationID,
		UserID:         input.UserID,
		RoleID:         input.RoleID,
		InvitedBy:      input.InvitedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO org_members (organization_id, user_id, role_id, invited_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, user_id) DO NOTHING
		RETURNING id`,
		input.OrganizationID, input.UserID, input.RoleID, invitedBy, now, now,
	).Scan(&member.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE org_invitations SET accepted_at = $1 WHERE id = $2 AND accepted_at IS NULL`,
		now, invitationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	if rows == 0 {
		return nil, ErrInvitationAccepted
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation accept: %w", err)
	}

	return member, nil
}

// RevokeInvitation deletes a pending invitation
func (s *Store) RevokeInvitation(ctx context.Context, organizationID, invitationID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM org_invitations WHERE id = $1 AND organization_id = $2 AND accepted_at IS NULL`,
		invitationID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	if rows == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

// CleanupExpiredInvitations deletes pending invitations whose lifetime has
// passed and reports how many were removed. The sweeper daemon runs this on
// a schedule.
func (s *Store) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM org_invitations WHERE accepted_at IS NULL AND expires_at < $1`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up invitations: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up invitations: %w", err)
	}
	return deleted, nil
}
