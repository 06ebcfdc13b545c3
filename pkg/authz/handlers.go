package authz

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sitedesk/sitedesk/pkg/audit"
	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/httputil"
)

// Handlers provides HTTP handlers for role and permission administration
type Handlers struct {
	store       *Store
	auditLogger audit.Logger
	roleCache   *RoleCache
}

// NewHandlers creates new authorization handlers
func NewHandlers(store *Store, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       store,
		auditLogger: auditLogger,
	}
}

// WithRoleCache registers the cache invalidated on role writes
func (h *Handlers) WithRoleCache(cache *RoleCache) *Handlers {
	h.roleCache = cache
	return h
}

func (h *Handlers) invalidateRole(role *Role) {
	if h.roleCache != nil {
		h.roleCache.Invalidate(role)
	}
}

// RegisterRoutes registers all authorization routes. The router is expected
// to already run the identity middleware; route guards are applied by the
// caller so deployments can tune them.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Role management
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")

	// Permission catalog
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")

	// Access introspection
	router.HandleFunc("/access/check", h.CheckAccess).Methods("POST")
	router.HandleFunc("/me/permissions", h.MyPermissions).Methods("GET")
}

// writeStoreError maps registry errors onto the response envelope
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, "role not found")
	case errors.Is(err, ErrSystemRoleRename):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeSystemRoleRename, "system roles cannot be renamed")
	case errors.Is(err, ErrSystemRole):
		httputil.WriteForbidden(w, httputil.CodeForbidden, "system roles cannot be deleted")
	case errors.Is(err, ErrRoleInUse):
		httputil.WriteConflict(w, httputil.CodeRoleInUse, "role is assigned to organization members")
	case errors.Is(err, ErrDuplicateRole):
		httputil.WriteConflict(w, httputil.CodeConflict, "a role with this name already exists")
	case errors.Is(err, ErrUnknownPermission):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeUnknownPermission, err.Error())
	case errors.Is(err, ErrValidation):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeValidation, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// roleVisible reports whether the caller's organization may see the role.
// System roles are visible everywhere; custom roles only inside their own
// organization.
func roleVisible(identity *auth.Identity, role *Role) bool {
	if role.OrganizationID == nil {
		return true
	}
	return identity != nil && *role.OrganizationID == identity.OrganizationID
}

// CreateRole creates a custom role in the caller's organization
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var req struct {
		Name          string     `json:"name"`
		Description   string     `json:"description"`
		PermissionIDs []int64    `json:"permission_ids"`
		Scopes        ScopeTable `json:"scopes"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	userID := identity.UserID
	role, err := h.store.CreateRole(ctx, NewRole{
		OrganizationID: identity.OrganizationID,
		Name:           req.Name,
		Description:    req.Description,
		PermissionIDs:  req.PermissionIDs,
		Scopes:         req.Scopes,
		CreatedBy:      &userID,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeRoleCreate, strconv.FormatInt(role.ID, 10), nil)
	httputil.WriteCreated(w, role)
}

// ListRoles lists the caller's organization roles plus the system roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	page, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	roles, total, err := h.store.ListRoles(ctx, identity.OrganizationID, ListOptions{
		Search: httputil.ParseQueryString(r, "search", ""),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"total": total,
	})
}

// GetRole retrieves a single role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, _ := auth.FromContext(ctx)

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !roleVisible(identity, role) {
		httputil.WriteNotFound(w, "role not found")
		return
	}

	httputil.WriteSuccess(w, role)
}

// UpdateRole applies a partial update to a role. System roles accept
// permission and scope edits; renames are rejected.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	existing, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !roleVisible(identity, existing) {
		httputil.WriteNotFound(w, "role not found")
		return
	}

	var patch RolePatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	role, err := h.store.UpdateRole(ctx, roleID, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Invalidate under the pre-update name so renames do not strand entries
	h.invalidateRole(existing)
	h.logAudit(ctx, identity, audit.EventTypeRoleUpdate, strconv.FormatInt(role.ID, 10), nil)
	httputil.WriteSuccess(w, role)
}

// DeleteRole removes a custom role that no member references
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	existing, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !roleVisible(identity, existing) {
		httputil.WriteNotFound(w, "role not found")
		return
	}

	if err := h.store.DeleteRole(ctx, roleID); err != nil {
		writeStoreError(w, err)
		return
	}

	h.invalidateRole(existing)
	h.logAudit(ctx, identity, audit.EventTypeRoleDelete, strconv.FormatInt(roleID, 10), nil)
	httputil.WriteNoContent(w)
}

// ListPermissions returns the permission catalog, flat by default or
// grouped by category with ?grouped=true
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	grouped, err := httputil.ParseQueryBool(r, "grouped", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	catalog := h.store.Catalog()
	if grouped {
		httputil.WriteSuccess(w, catalog.FindAllGroupedByCategory())
		return
	}
	httputil.WriteSuccess(w, catalog.FindAll())
}

// CheckAccess evaluates the caller's role against a (resource, action)
// pair, optionally with a project id, and reports the outcome without
// touching anything. UIs use this to grey out controls.
func (h *Handlers) CheckAccess(w http.ResponseWriter, r *http.Request) {
	role := RoleFromContext(r.Context())
	if role == nil {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var req struct {
		Resource  Resource `json:"resource"`
		Action    Action   `json:"action"`
		ProjectID *int64   `json:"project_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.Resource.Valid() || !req.Action.Valid() {
		httputil.WriteValidationError(w, "unknown resource or action")
		return
	}

	allowed := Allowed(role, req.Resource, req.Action)
	if allowed && req.ProjectID != nil {
		allowed = projectAccessible(r, role, *req.ProjectID)
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"allowed": allowed,
		"scope":   ScopeFor(role, req.Resource),
	})
}

// MyPermissions returns the caller's resolved role with its permission set
// and scope table
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	role := RoleFromContext(r.Context())
	if role == nil {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"role":        role.Name,
		"is_system":   role.IsSystem,
		"permissions": role.Permissions,
		"scopes":      role.Scopes,
	})
}

// logAudit logs an audit event
func (h *Handlers) logAudit(ctx context.Context, identity *auth.Identity, eventType audit.EventType, resourceID string, err error) {
	if h.auditLogger == nil {
		return
	}

	event := &audit.Event{
		Timestamp:    time.Now(),
		EventType:    eventType,
		ResourceType: audit.ResourceRole,
		ResourceID:   resourceID,
	}

	if identity != nil {
		event.OrganizationID = &identity.OrganizationID
		event.UserID = &identity.UserID
	}

	if err == nil {
		event.Status = audit.StatusSuccess
	} else {
		event.Status = audit.StatusFailure
		event.ErrorMessage = err.Error()
	}

	h.auditLogger.Log(ctx, event)
}
