package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/httputil"
)

// Handlers exposes the audit query API. Routes are expected to be mounted
// behind the identity middleware and an admin guard; on top of that every
// query is forced to the caller's organization, so even a mis-mounted router
// cannot leak another tenant's trail.
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{
		store: store,
	}
}

// RegisterRoutes registers audit query routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.ListEvents).Methods("GET")
	router.HandleFunc("/audit/events/{id}", h.GetEvent).Methods("GET")
	router.HandleFunc("/audit/export", h.ExportEvents).Methods("GET")
	router.HandleFunc("/audit/stats", h.GetStats).Methods("GET")
}

// ListEvents handles GET /audit/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	filter.OrganizationID = &identity.OrganizationID

	events, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetEvent handles GET /audit/events/{id}
func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	// Cross-tenant ids read as absent.
	if event == nil || event.OrganizationID == nil || *event.OrganizationID != identity.OrganizationID {
		httputil.WriteNotFound(w, "event not found")
		return
	}

	httputil.WriteSuccess(w, event)
}

// ExportEvents handles GET /audit/export. The payload is the raw export,
// not the response envelope, so it can be piped to files and tools.
func (h *Handlers) ExportEvents(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	filter.OrganizationID = &identity.OrganizationID

	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.json")
	}

	w.Write(data)
}

// GetStats handles GET /audit/stats
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.FromContext(r.Context()); !ok {
		httputil.WriteForbidden(w, httputil.CodeMissingOrgContext, "organization context is required")
		return
	}

	var startTime, endTime *time.Time

	if startStr := httputil.ParseQueryString(r, "start_time", ""); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid start_time, want RFC3339")
			return
		}
		startTime = &t
	}

	if endStr := httputil.ParseQueryString(r, "end_time", ""); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid end_time, want RFC3339")
			return
		}
		endTime = &t
	}

	stats, err := h.store.GetStats(r.Context(), startTime, endTime)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// parseFilter parses the search filter from query parameters, writing a 400
// on malformed values.
func (h *Handlers) parseFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	filter := SearchFilter{}

	if startStr := httputil.ParseQueryString(r, "start_time", ""); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid start_time, want RFC3339")
			return filter, false
		}
		filter.StartTime = &t
	}

	if endStr := httputil.ParseQueryString(r, "end_time", ""); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid end_time, want RFC3339")
			return filter, false
		}
		filter.EndTime = &t
	}

	userID, err := httputil.ParseQueryInt64(r, "user_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if userID > 0 {
		filter.UserID = &userID
	}

	if typesStr := httputil.ParseQueryString(r, "event_types", ""); typesStr != "" {
		for _, part := range strings.Split(typesStr, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				filter.EventTypes = append(filter.EventTypes, EventType(part))
			}
		}
	}

	if statusStr := httputil.ParseQueryString(r, "status", ""); statusStr != "" {
		status := Status(statusStr)
		filter.Status = &status
	}

	filter.ResourceType = ResourceType(httputil.ParseQueryString(r, "resource_type", ""))
	filter.ResourceID = httputil.ParseQueryString(r, "resource_id", "")
	filter.SortOrder = httputil.ParseQueryString(r, "sort_order", "desc")

	page, err := httputil.ParsePagination(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	filter.Limit = page.Limit
	filter.Offset = page.Offset

	return filter, true
}
