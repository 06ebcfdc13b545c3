package orgs

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

// Handlers provides HTTP handlers for member, invitation, project access
// and plan limit administration.
type Handlers struct {
	service     *Service
	auditLogger audit.Logger
}

// NewHandlers creates new organization handlers
func NewHandlers(service *Service, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		service:     service,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers all organization routes. The router is expected
// to already run the identity middleware; route guards are applied by the
// caller so deployments can tune them.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Membership
	router.HandleFunc("/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/members", h.AddMember).Methods("POST")
	router.HandleFunc("/members/{id}", h.GetMember).Methods("GET")
	router.HandleFunc("/members/{id}", h.ChangeMemberRole).Methods("PUT")
	router.HandleFunc("/members/{id}", h.RemoveMember).Methods("DELETE")

	// Project access
	router.HandleFunc("/members/{id}/projects", h.ListMemberProjects).Methods("GET")
	router.HandleFunc("/members/{id}/projects", h.GrantProjectAccess).Methods("POST")
	router.HandleFunc("/members/{id}/projects/{projectId}", h.RevokeProjectAccess).Methods("DELETE")
	router.HandleFunc("/projects/{projectId}/members", h.ListProjectMembers).Methods("GET")

	// Invitations
	router.HandleFunc("/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/invitations", h.CreateInvitation).Methods("POST")
	router.HandleFunc("/invitations/accept", h.AcceptInvitation).Methods("POST")
	router.HandleFunc("/invitations/{id}", h.RevokeInvitation).Methods("DELETE")

	// Plan limits
	router.HandleFunc("/limits", h.GetLimits).Methods("GET")
	router.HandleFunc("/limits", h.SetLimits).Methods("PUT")
}

// writeOrgsError maps membership errors onto the response envelope
func writeOrgsError(w http.ResponseWriter, err error) {
	var limitErr *LimitExceededError
	switch {
	case errors.Is(err, ErrMemberNotFound),
		errors.Is(err, ErrInvitationNotFound),
		errors.Is(err, ErrAccessNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrMemberExists),
		errors.Is(err, ErrAccessExists),
		errors.Is(err, ErrInvitationAccepted):
		httputil.WriteConflict(w, httputil.CodeConflict, err.Error())
	case errors.Is(err, ErrInvitationExpired):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrRoleNotAvailable), errors.Is(err, ErrValidation):
		httputil.WriteError(w, http.StatusBadRequest, httputil.CodeValidation, err.Error())
	case errors.As(err, &limitErr):
		httputil.WriteForbidden(w, httputil.CodeLimitExceeded, limitErr.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// ListMembers lists the caller's organization members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
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

	members, total, err := h.service.ListMembers(ctx, identity.OrganizationID, ListOptions{
		Search: httputil.ParseQueryString(r, "search", ""),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"members": members,
		"total":   total,
	})
}

// AddMember adds a user to the caller's organization
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invitedBy := identity.UserID
	member, err := h.service.AddMember(ctx, NewMember{
		OrganizationID: identity.OrganizationID,
		UserID:         req.UserID,
		RoleID:         req.RoleID,
		InvitedBy:      &invitedBy,
	})
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeMemberAdd, audit.ResourceMember,
		strconv.FormatInt(member.ID, 10), map[string]interface{}{"user_id": member.UserID})
	httputil.WriteCreated(w, member)
}

// GetMember retrieves a single member
func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	member, err := h.service.GetMember(ctx, identity.OrganizationID, memberID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	httputil.WriteSuccess(w, member)
}

// ChangeMemberRole assigns a different role to a member
func (h *Handlers) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		RoleID int64 `json:"role_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.service.ChangeMemberRole(ctx, identity.OrganizationID, memberID, req.RoleID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeMemberRoleChange, audit.ResourceMember,
		strconv.FormatInt(member.ID, 10), map[string]interface{}{"role_id": member.RoleID})
	httputil.WriteSuccess(w, member)
}

// RemoveMember removes a member and their project access
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(ctx, identity.OrganizationID, memberID); err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeMemberRemove, audit.ResourceMember,
		strconv.FormatInt(memberID, 10), nil)
	httputil.WriteNoContent(w)
}

// ListMemberProjects lists a member's project grants
func (h *Handlers) ListMemberProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	grants, err := h.service.ListMemberProjects(ctx, identity.OrganizationID, memberID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"member_id": memberID,
		"projects":  grants,
	})
}

// GrantProjectAccess gives a member access to one project
func (h *Handlers) GrantProjectAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		ProjectID int64 `json:"project_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	grantedBy := identity.UserID
	grant, err := h.service.GrantProjectAccess(ctx, identity.OrganizationID, memberID, req.ProjectID, &grantedBy)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeProjectAccessGrant, audit.ResourceProjectAccess,
		strconv.FormatInt(grant.ID, 10), map[string]interface{}{
			"member_id":  memberID,
			"project_id": grant.ProjectID,
		})
	httputil.WriteCreated(w, grant)
}

// RevokeProjectAccess removes a member's grant for one project
func (h *Handlers) RevokeProjectAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	memberID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectId")
	if !ok {
		return
	}

	if err := h.service.RevokeProjectAccess(ctx, identity.OrganizationID, memberID, projectID); err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeProjectAccessRevoke, audit.ResourceProjectAccess,
		strconv.FormatInt(projectID, 10), map[string]interface{}{
			"member_id":  memberID,
			"project_id": projectID,
		})
	httputil.WriteNoContent(w)
}

// ListProjectMembers lists the members holding a grant for the project
func (h *Handlers) ListProjectMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	projectID, ok := httputil.ParsePathInt64OrError(w, r, "projectId")
	if !ok {
		return
	}

	members, err := h.service.ListProjectMembers(ctx, identity.OrganizationID, projectID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"project_id": projectID,
		"members":    members,
	})
}

// ListInvitations lists the caller's organization pending invitations
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	invitations, err := h.service.ListInvitations(ctx, identity.OrganizationID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"invitations": invitations,
	})
}

// CreateInvitation invites an email address with a preassigned role
func (h *Handlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var req struct {
		Email          string `json:"email"`
		RoleName       string `json:"role_name"`
		ExpiresInHours int64  `json:"expires_in_hours"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	invitedBy := identity.UserID
	inv, err := h.service.CreateInvitation(ctx, NewInvitation{
		OrganizationID: identity.OrganizationID,
		Email:          req.Email,
		RoleName:       req.RoleName,
		InvitedBy:      &invitedBy,
		TTL:            time.Duration(req.ExpiresInHours) * time.Hour,
	})
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeInviteCreate, audit.ResourceInvitation,
		strconv.FormatInt(inv.ID, 10), map[string]interface{}{"email": inv.Email})
	httputil.WriteCreated(w, inv)
}

// AcceptInvitation redeems an invitation token for the calling user,
// creating their membership.
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.service.AcceptInvitation(ctx, req.Token, identity.UserID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeInviteAccept, audit.ResourceMember,
		strconv.FormatInt(member.ID, 10), nil)
	httputil.WriteCreated(w, member)
}

// RevokeInvitation deletes a pending invitation
func (h *Handlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.RevokeInvitation(ctx, identity.OrganizationID, invitationID); err != nil {
		writeOrgsError(w, err)
		return
	}

	h.logAudit(ctx, identity, audit.EventTypeInviteRevoke, audit.ResourceInvitation,
		strconv.FormatInt(invitationID, 10), nil)
	httputil.WriteNoContent(w)
}

// GetLimits returns the caller's organization ceilings and current usage
func (h *Handlers) GetLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	limits, err := h.service.GetLimits(ctx, identity.OrganizationID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}
	usage, err := h.service.GetUsage(ctx, identity.OrganizationID)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"limits": limits,
		"usage":  usage,
	})
}

// SetLimits replaces the caller's organization ceilings
func (h *Handlers) SetLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var req struct {
		MaxMembers     int64 `json:"max_members"`
		MaxCustomRoles int64 `json:"max_custom_roles"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	limits, err := h.service.SetLimits(ctx, identity.OrganizationID, req.MaxMembers, req.MaxCustomRoles)
	if err != nil {
		writeOrgsError(w, err)
		return
	}

	httputil.WriteSuccess(w, limits)
}

func (h *Handlers) logAudit(ctx context.Context, identity *auth.Identity, eventType audit.EventType, resourceType audit.ResourceType, resourceID string, metadata map[string]interface{}) {
	if h.auditLogger == nil {
		return
	}

	event := &audit.Event{
		Timestamp:    time.Now(),
		EventType:    eventType,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       audit.StatusSuccess,
		Metadata:     metadata,
	}

	if identity != nil {
		event.OrganizationID = &identity.OrganizationID
		event.UserID = &identity.UserID
	}

	h.auditLogger.Log(ctx, event)
}
