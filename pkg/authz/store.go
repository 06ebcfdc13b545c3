package authz

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const maxRoleNameLength = 64

// Store is the role registry: organization-scoped custom roles plus the
// shared system roles, persisted over *sql.DB. The permission catalog is
// injected so stored permission ids resolve against whatever vocabulary the
// deployment runs with.
type Store struct {
	db      *sql.DB
	catalog *Catalog
	mode    UnknownPermissionMode
}

// NewStore creates a role registry. mode decides what happens when role
// writes reference permission ids absent from the catalog; an invalid mode
// falls back to reject, the fail-closed default.
func NewStore(db *sql.DB, catalog *Catalog, mode UnknownPermissionMode) *Store {
	if !mode.Valid() {
		mode = UnknownPermissionReject
	}
	return &Store{db: db, catalog: catalog, mode: mode}
}

// Catalog returns the injected permission catalog
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

func validateRoleName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len(name) > maxRoleNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, maxRoleNameLength)
	}
	return nil
}

func validateScopes(scopes ScopeTable) error {
	for resource, scope := range scopes {
		if !resource.Valid() {
			return fmt.Errorf("%w: unknown resource %q in scope table", ErrValidation, resource)
		}
		if !scope.Valid() {
			return fmt.Errorf("%w: unknown scope %q for resource %q", ErrValidation, scope, resource)
		}
	}
	return nil
}

// NewRole carries the fields of a role creation
type NewRole struct {
	OrganizationID int64
	Name           string
	Description    string
	PermissionIDs  []int64
	Scopes         ScopeTable
	CreatedBy      *int64
}

// CreateRole creates a custom role for an organization. The supplied
// permission ids are validated against the catalog under the store's
// unknown-id mode; scopes default to none for unlisted resources.
func (s *Store) CreateRole(ctx context.Context, input NewRole) (*Role, error) {
	if err := validateRoleName(input.Name); err != nil {
		return nil, err
	}
	if IsSystemRoleName(input.Name) {
		return nil, fmt.Errorf("%w: %q is a reserved system role name", ErrValidation, input.Name)
	}
	if err := validateScopes(input.Scopes); err != nil {
		return nil, err
	}

	perms, err := s.catalog.ResolveIDs(input.PermissionIDs, s.mode)
	if err != nil {
		return nil, err
	}
	storedIDs := IDsOf(perms)

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM roles WHERE organization_id = $1 AND name = $2)`,
		input.OrganizationID, input.Name,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check role name: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRole, input.Name)
	}

	idsJSON, err := json.Marshal(storedIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permission ids: %w", err)
	}
	scopes := input.Scopes
	if scopes == nil {
		scopes = ScopeTable{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `
		INSERT INTO roles (organization_id, name, description, is_system, permission_ids, scopes, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now().UTC()
	orgID := input.OrganizationID
	role := &Role{
		OrganizationID: &orgID,
		Name:           input.Name,
		Description:    input.Description,
		PermissionIDs:  storedIDs,
		Permissions:    perms,
		Scopes:         scopes.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      input.CreatedBy,
	}

	var createdBy sql.NullInt64
	if input.CreatedBy != nil {
		createdBy = sql.NullInt64{Int64: *input.CreatedBy, Valid: true}
	}
	err = s.db.QueryRowContext(ctx, query,
		input.OrganizationID,
		input.Name,
		input.Description,
		false,
		string(idsJSON),
		string(scopesJSON),
		now,
		now,
		createdBy,
	).Scan(&role.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	return role, nil
}

// UpdateRole applies a patch to a role. System roles accept permission and
// scope changes but never a rename.
func (s *Store) UpdateRole(ctx context.Context, roleID int64, patch RolePatch) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil && *patch.Name != role.Name {
		if role.IsSystem {
			return nil, ErrSystemRoleRename
		}
		if err := validateRoleName(*patch.Name); err != nil {
			return nil, err
		}
		if IsSystemRoleName(*patch.Name) {
			return nil, fmt.Errorf("%w: %q is a reserved system role name", ErrValidation, *patch.Name)
		}
		role.Name = *patch.Name
	}
	if patch.Description != nil {
		role.Description = *patch.Description
	}
	if patch.PermissionIDs != nil {
		perms, err := s.catalog.ResolveIDs(patch.PermissionIDs, s.mode)
		if err != nil {
			return nil, err
		}
		role.PermissionIDs = IDsOf(perms)
		role.Permissions = perms
	}
	if patch.Scopes != nil {
		if err := validateScopes(patch.Scopes); err != nil {
			return nil, err
		}
		role.Scopes = patch.Scopes.Clone()
	}

	idsJSON, err := json.Marshal(role.PermissionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permission ids: %w", err)
	}
	scopesJSON, err := json.Marshal(role.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `
		UPDATE roles
		SET name = $1, description = $2, permission_ids = $3, scopes = $4, updated_at = $5
		WHERE id = $6
	`

	role.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		role.Name,
		role.Description,
		string(idsJSON),
		string(scopesJSON),
		role.UpdatedAt,
		role.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	return role, nil
}

// DeleteRole removes a custom role. System roles are never deletable, and a
// role still referenced by organization members is rejected so members are
// not orphaned without a role.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	var members int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM org_members WHERE role_id = $1`,
		roleID,
	).Scan(&members)
	if err != nil {
		return fmt.Errorf("failed to count role members: %w", err)
	}
	if members > 0 {
		return fmt.Errorf("%w: %d members", ErrRoleInUse, members)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

const roleColumns = `id, organization_id, name, description, is_system, permission_ids, scopes, created_at, updated_at, created_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanRole(row rowScanner) (*Role, error) {
	var role Role
	var orgID, createdBy sql.NullInt64
	var idsJSON, scopesJSON string

	err := row.Scan(
		&role.ID,
		&orgID,
		&role.Name,
		&role.Description,
		&role.IsSystem,
		&idsJSON,
		&scopesJSON,
		&role.CreatedAt,
		&role.UpdatedAt,
		&createdBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(idsJSON), &role.PermissionIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission ids: %w", err)
	}
	if err := json.Unmarshal([]byte(scopesJSON), &role.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}

	// Stored ids survive catalog edits verbatim; entries the current
	// catalog no longer defines simply resolve to no permission.
	perms, err := s.catalog.ResolveIDs(role.PermissionIDs, UnknownPermissionDrop)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	role.Permissions = perms

	if orgID.Valid {
		id := orgID.Int64
		role.OrganizationID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		role.CreatedBy = &id
	}

	return &role, nil
}

// GetRole retrieves a role by id
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := s.scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name within an organization, falling
// back to the shared system role of that name. An organization's custom role
// wins over a system role only for non-reserved names, which CreateRole
// guarantees by rejecting reserved names.
func (s *Store) GetRoleByName(ctx context.Context, organizationID int64, name string) (*Role, error) {
	query := `
		SELECT ` + roleColumns + `
		FROM roles
		WHERE name = $1 AND (organization_id = $2 OR organization_id IS NULL)
		ORDER BY organization_id DESC NULLS LAST
		LIMIT 1
	`

	role, err := s.scanRole(s.db.QueryRowContext(ctx, query, name, organizationID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListRoles returns the organization's roles plus the shared system roles,
// paginated and optionally filtered by a case-insensitive name search. The
// second return is the total match count before pagination.
func (s *Store) ListRoles(ctx context.Context, organizationID int64, opts ListOptions) ([]*Role, int, error) {
	where := `(organization_id = $1 OR organization_id IS NULL)`
	args := []interface{}{organizationID}
	if opts.Search != "" {
		where += ` AND lower(name) LIKE '%' || lower($2) || '%'`
		args = append(args, opts.Search)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM roles WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count roles: %w", err)
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
		SELECT %s FROM roles
		WHERE %s
		ORDER BY is_system DESC, name ASC
		LIMIT $%d OFFSET $%d
	`, roleColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := s.scanRole(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	return roles, total, rows.Err()
}

// SeedSystemRoles inserts any missing system roles with their default
// permission sets and scope tables. Existing system roles are left
// untouched so operator edits to their permission sets survive restarts.
func (s *Store) SeedSystemRoles(ctx context.Context) error {
	for _, role := range SystemRoles(s.catalog) {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1 AND organization_id IS NULL)`,
			role.Name,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check system role %s: %w", role.Name, err)
		}
		if exists {
			continue
		}

		idsJSON, err := json.Marshal(role.PermissionIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal permission ids: %w", err)
		}
		scopesJSON, err := json.Marshal(role.Scopes)
		if err != nil {
			return fmt.Errorf("failed to marshal scopes: %w", err)
		}

		now := time.Now().UTC()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO roles (organization_id, name, description, is_system, permission_ids, scopes, created_at, updated_at)
			VALUES (NULL, $1, $2, $3, $4, $5, $6, $7)
		`,
			role.Name,
			role.Description,
			true,
			string(idsJSON),
			string(scopesJSON),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to seed system role %s: %w", role.Name, err)
		}
	}
	return nil
}
