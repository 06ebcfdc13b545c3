package authz

import "errors"

// Sentinel errors returned by the role registry and catalog. Handlers match
// these with errors.Is and map them to stable envelope codes; nothing below
// the HTTP boundary writes responses.
var (
	// ErrNotFound indicates the requested role does not exist
	ErrNotFound = errors.New("role not found")

	// ErrValidation indicates an invalid role name or field value
	ErrValidation = errors.New("validation failed")

	// ErrSystemRoleRename indicates an attempt to rename a system role.
	// System roles are permission-mutable but identity-fixed.
	ErrSystemRoleRename = errors.New("system roles cannot be renamed")

	// ErrSystemRole indicates an attempt to delete a system role
	ErrSystemRole = errors.New("system roles cannot be deleted")

	// ErrRoleInUse indicates a delete was rejected because organization
	// members still reference the role
	ErrRoleInUse = errors.New("role is assigned to organization members")

	// ErrUnknownPermission indicates a permission id absent from the
	// catalog was supplied while the registry runs in reject mode
	ErrUnknownPermission = errors.New("unknown permission id")

	// ErrDuplicateRole indicates a role with the same name already exists
	// in the organization
	ErrDuplicateRole = errors.New("role name already exists")
)
