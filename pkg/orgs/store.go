package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store persists organization members, project access grants, invitations
// and plan limits over *sql.DB. It enforces row-level integrity only;
// role validation and ceiling checks live in Service.
type Store struct {
	db *sql.DB
}

// NewStore creates a membership store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const memberColumns = `
	m.id, m.organization_id, m.user_id, m.role_id, m.invited_by,
	m.created_at, m.updated_at, r.name, u.email, u.name`

const memberJoins = `
	FROM org_members m
	LEFT JOIN roles r ON r.id = m.role_id
	LEFT JOIN users u ON u.id = m.user_id`

func scanMember(row interface{ Scan(dest ...interface{}) error }) (*Member, error) {
	var (
		member    Member
		invitedBy sql.NullInt64
		roleName  sql.NullString
		email     sql.NullString
		userName  sql.NullString
	)
	err := row.Scan(
		&member.ID, &member.OrganizationID, &member.UserID, &member.RoleID,
		&invitedBy, &member.CreatedAt, &member.UpdatedAt,
		&roleName, &email, &userName,
	)
	if err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		member.InvitedBy = &invitedBy.Int64
	}
	member.RoleName = roleName.String
	member.Email = email.String
	member.Name = userName.String
	return &member, nil
}

// AddMember inserts a membership row. Callers wanting role validation and
// ceiling enforcement go through Service.AddMember.
func (s *Store) AddMember(ctx context.Context, input NewMember) (*Member, error) {
	if input.OrganizationID <= 0 || input.UserID <= 0 || input.RoleID <= 0 {
		return nil, fmt.Errorf("%w: organization, user and role ids are required", ErrValidation)
	}

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

	err := s.db.QueryRowContext(ctx, `
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

	return member, nil
}

// GetMember retrieves a member by id within an organization
func (s *Store) GetMember(ctx context.Context, organizationID, memberID int64) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+memberColumns+memberJoins+`
		WHERE m.id = $1 AND m.organization_id = $2`,
		memberID, organizationID,
	)
	member, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// GetMemberByUser retrieves a user's membership in an organization
func (s *Store) GetMemberByUser(ctx context.Context, organizationID, userID int64) (*Member, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+memberColumns+memberJoins+`
		WHERE m.organization_id = $1 AND m.user_id = $2`,
		organizationID, userID,
	)
	member, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return member, nil
}

// ListMembers lists an organization's members, optionally filtered by a
// search over the user's email and name.
func (s *Store) ListMembers(ctx context.Context, organizationID int64, opts ListOptions) ([]*Member, int, error) {
	where := `m.organization_id = $1`
	args := []interface{}{organizationID}
	if opts.Search != "" {
		where += ` AND (lower(u.email) LIKE '%' || lower($2) || '%' OR lower(u.name) LIKE '%' || lower($2) || '%')`
		args = append(args, opts.Search)
	}

	var total int
	countQuery := `SELECT COUNT(*)` + memberJoins + ` WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count members: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s %s
		WHERE %s
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $%d OFFSET $%d
	`, memberColumns, memberJoins, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list members: %w", err)
	}

	return members, total, nil
}

// ChangeMemberRole updates a member's role assignment
func (s *Store) ChangeMemberRole(ctx context.Context, organizationID, memberID, roleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE org_members SET role_id = $1, updated_at = $2 WHERE id = $3 AND organization_id = $4`,
		roleID, time.Now().UTC(), memberID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to change member role: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to change member role: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// RemoveMember deletes a membership and its project access grants
func (s *Store) RemoveMember(ctx context.Context, organizationID, memberID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM org_members WHERE id = $1 AND organization_id = $2`,
		memberID, organizationID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}

	// The grants go with the member
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM project_access WHERE member_id = $1`, memberID,
	); err != nil {
		return fmt.Errorf("failed to remove project access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member removal: %w", err)
	}
	return nil
}

// GrantProjectAccess records a project grant for a member. Membership and
// organization scoping are the caller's responsibility.
func (s *Store) GrantProjectAccess(ctx context.Context, memberID, projectID int64, grantedBy *int64) (*ProjectGrant, error) {
	var by sql.NullInt64
	if grantedBy != nil {
		by = sql.NullInt64{Int64: *grantedBy, Valid: true}
	}

	now := time.Now().UTC()
	grant := &ProjectGrant{
		MemberID:  memberID,
		ProjectID: projectID,
		GrantedBy: grantedBy,
		GrantedAt: now,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO project_access (member_id, project_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_id, project_id) DO NOTHING
		RETURNING id`,
		memberID, projectID, by, now,
	).Scan(&grant.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccessExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to grant project access: %w", err)
	}

	return grant, nil
}

// RevokeProjectAccess removes a member's grant for one project
func (s *Store) RevokeProjectAccess(ctx context.Context, memberID, projectID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM project_access WHERE member_id = $1 AND project_id = $2`,
		memberID, projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke project access: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke project access: %w", err)
	}
	if rows == 0 {
		return ErrAccessNotFound
	}
	return nil
}

// ListMemberProjects lists a member's project grants ordered by project id
func (s *Store) ListMemberProjects(ctx context.Context, memberID int64) ([]*ProjectGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, project_id, granted_by, granted_at
		FROM project_access
		WHERE member_id = $1
		ORDER BY project_id ASC`,
		memberID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project access: %w", err)
	}
	defer rows.Close()

	grants := []*ProjectGrant{}
	for rows.Next() {
		var (
			grant ProjectGrant
			by    sql.NullInt64
		)
		if err := rows.Scan(&grant.ID, &grant.MemberID, &grant.ProjectID, &by, &grant.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project access: %w", err)
		}
		if by.Valid {
			grant.GrantedBy = &by.Int64
		}
		grants = append(grants, &grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list project access: %w", err)
	}

	return grants, nil
}

// ListProjectMembers lists the organization members holding a grant for the
// project.
func (s *Store) ListProjectMembers(ctx context.Context, organizationID, projectID int64) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+memberColumns+memberJoins+`
		JOIN project_access pa ON pa.member_id = m.id
		WHERE m.organization_id = $1 AND pa.project_id = $2
		ORDER BY m.id ASC`,
		organizationID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list project members: %w", err)
	}

	return members, nil
}

// MemberAccess resolves a user's membership id and accessible project ids.
// A zero member id with a nil error means the user is not a member of the
// organization; lookup failures are returned so callers fail closed.
func (s *Store) MemberAccess(ctx context.Context, organizationID, userID int64) (int64, []int64, error) {
	var memberID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM org_members WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID,
	).Scan(&memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to look up membership: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id FROM project_access WHERE member_id = $1 ORDER BY project_id ASC`,
		memberID,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load project access: %w", err)
	}
	defer rows.Close()

	projectIDs := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, nil, fmt.Errorf("failed to scan project access: %w", err)
		}
		projectIDs = append(projectIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to load project access: %w", err)
	}

	return memberID, projectIDs, nil
}
