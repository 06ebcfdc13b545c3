package authz

import (
	"time"
)

// Resource represents a controllable resource type in the system
type Resource string

const (
	ResourceProject  Resource = "project"
	ResourceStage    Resource = "stage"
	ResourceExpense  Resource = "expense"
	ResourcePayment  Resource = "payment"
	ResourceAdvance  Resource = "advance"
	ResourceMaterial Resource = "material"
	ResourceDocument Resource = "document"
	ResourceReport   Resource = "report"
	ResourceMember   Resource = "member"
	ResourceRole     Resource = "role"
)

// Resources returns every resource in catalog order
func Resources() []Resource {
	return []Resource{
		ResourceProject,
		ResourceStage,
		ResourceExpense,
		ResourcePayment,
		ResourceAdvance,
		ResourceMaterial,
		ResourceDocument,
		ResourceReport,
		ResourceMember,
		ResourceRole,
	}
}

// Valid reports whether r is a known resource
func (r Resource) Valid() bool {
	switch r {
	case ResourceProject, ResourceStage, ResourceExpense, ResourcePayment,
		ResourceAdvance, ResourceMaterial, ResourceDocument, ResourceReport,
		ResourceMember, ResourceRole:
		return true
	}
	return false
}

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionExport  Action = "export"
)

// Actions returns every action in catalog order
func Actions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove, ActionExport}
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove, ActionExport:
		return true
	}
	return false
}

// Scope represents the breadth at which a granted permission applies.
// It is resolved per (role, resource) at request time and never trusted
// from the client.
type Scope string

const (
	// ScopeAll grants access to every project in the organization.
	ScopeAll Scope = "all"
	// ScopeAssigned restricts access to the projects listed in the
	// member's project_access rows. An empty set means no projects.
	ScopeAssigned Scope = "assigned"
	// ScopeOwn restricts access to records the member owns; project
	// access rows are not consulted.
	ScopeOwn Scope = "own"
	// ScopeNone denies all operations on the resource regardless of the
	// role's permission set.
	ScopeNone Scope = "none"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeAssigned, ScopeOwn, ScopeNone:
		return true
	}
	return false
}

// Permission is an immutable catalog entry: a (resource, action) capability
// with a stable id and a category used for UI grouping. Permissions are
// global; only their assignment to roles is organization-scoped.
type Permission struct {
	ID       int64    `json:"id"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
	Category string   `json:"category"`
}

// Key returns the canonical "resource:action" form of the permission
func (p Permission) Key() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// ScopeTable maps each resource to the scope a role holds on it.
// Resources absent from the table resolve to ScopeNone.
type ScopeTable map[Resource]Scope

// Clone returns an independent copy of the table
func (t ScopeTable) Clone() ScopeTable {
	if t == nil {
		return nil
	}
	out := make(ScopeTable, len(t))
	for resource, scope := range t {
		out[resource] = scope
	}
	return out
}

// Role is a named bundle of permissions with a per-resource scope table.
// System roles (OrganizationID == nil, IsSystem == true) are shared across
// organizations; their permission sets may be edited but their names are
// fixed.
type Role struct {
	ID             int64        `json:"id"`
	OrganizationID *int64       `json:"organization_id,omitempty"` // nil for system roles
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	IsSystem       bool         `json:"is_system"`
	PermissionIDs  []int64      `json:"permission_ids"`
	Permissions    []Permission `json:"permissions"` // resolved through the catalog, not persisted
	Scopes         ScopeTable   `json:"scopes"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	CreatedBy      *int64       `json:"created_by,omitempty"`
}

// HasAssignedScope reports whether any resource in the role's scope table
// resolves to ScopeAssigned. The context resolver uses this to decide
// whether the member's project access set must be loaded.
func (r *Role) HasAssignedScope() bool {
	for _, scope := range r.Scopes {
		if scope == ScopeAssigned {
			return true
		}
	}
	return false
}

// System role names. Fixed vocabulary: these roles are seeded at setup,
// shared across organizations, and cannot be renamed or deleted.
const (
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleAccountant = "ACCOUNTANT"
	RoleSupervisor = "SUPERVISOR"
	RoleClient     = "CLIENT"
)

// SystemRoleNames returns the system role names in privilege order
func SystemRoleNames() []string {
	return []string{RoleAdmin, RoleManager, RoleAccountant, RoleSupervisor, RoleClient}
}

// IsSystemRoleName reports whether name is one of the system roles
func IsSystemRoleName(name string) bool {
	switch name {
	case RoleAdmin, RoleManager, RoleAccountant, RoleSupervisor, RoleClient:
		return true
	}
	return false
}

// RolePatch carries the optional fields of a role update. Nil fields are
// left unchanged.
type RolePatch struct {
	Name          *string    `json:"name,omitempty"`
	Description   *string    `json:"description,omitempty"`
	PermissionIDs []int64    `json:"permission_ids,omitempty"`
	Scopes        ScopeTable `json:"scopes,omitempty"`
}

// ListOptions controls role listing
type ListOptions struct {
	Search string
	Limit  int
	Offset int
}
