package audit

import (
	"time"
)

// EventType categorizes audit events. Values are dotted resource.verb pairs
// so filters can match whole families with a prefix.
type EventType string

const (
	// Role registry events
	EventTypeRoleCreate EventType = "role.created"
	EventTypeRoleUpdate EventType = "role.updated"
	EventTypeRoleDelete EventType = "role.deleted"

	// Membership events
	EventTypeMemberAdd        EventType = "member.added"
	EventTypeMemberRoleChange EventType = "member.role_changed"
	EventTypeMemberRemove     EventType = "member.removed"

	// Invitation events
	EventTypeInviteCreate EventType = "invitation.created"
	EventTypeInviteAccept EventType = "invitation.accepted"
	EventTypeInviteRevoke EventType = "invitation.revoked"

	// Project access events
	EventTypeProjectAccessGrant  EventType = "access.granted"
	EventTypeProjectAccessRevoke EventType = "access.revoked"

	// Authorization outcomes worth keeping
	EventTypeAuthzDenied EventType = "authz.denied"

	// Operational events
	EventTypeCatalogReload EventType = "catalog.reloaded"
	EventTypeHTTPRequest   EventType = "http.request"
)

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// ResourceType names the kind of resource an event is about.
type ResourceType string

const (
	ResourceRole          ResourceType = "role"
	ResourceMember        ResourceType = "member"
	ResourceInvitation    ResourceType = "invitation"
	ResourceProjectAccess ResourceType = "project_access"
	ResourceOrganization  ResourceType = "organization"
	ResourceCatalog       ResourceType = "catalog"
)

// Event is a single audit log entry. UserID and OrganizationID are pointers
// because some events (catalog reloads, background sweeps) have no actor.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Status    Status    `json:"status"`

	// Actor
	UserID         *int64 `json:"user_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Subject
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	// Details
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows audit queries. Zero values mean "no constraint".
// Results always sort by timestamp; SortOrder picks the direction.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID         *int64
	OrganizationID *int64

	EventTypes   []EventType
	Status       *Status
	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int

	SortOrder string // "asc" or "desc" (default)
}

// ExportFormat selects the serialization for audit exports.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// Stats summarizes audit activity over a time range.
type Stats struct {
	TotalEvents    int64               `json:"total_events"`
	EventsByType   map[EventType]int64 `json:"events_by_type"`
	EventsByStatus map[Status]int64    `json:"events_by_status"`
	Denials        int64               `json:"denials"`
	UniqueUsers    int64               `json:"unique_users"`
	TimeRange      *TimeRange          `json:"time_range,omitempty"`
}

// TimeRange bounds a statistics query.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy controls how long events stay queryable and what happens
// to them afterwards.
type RetentionPolicy struct {
	// RetentionDays is how many days of events to keep in the database.
	RetentionDays int

	// ArchiveEnabled uploads expired events to object storage before
	// deleting them. Without it, Cleanup just deletes.
	ArchiveEnabled bool

	// CompressArchive gzips archive objects.
	CompressArchive bool
}

// DefaultRetentionPolicy keeps 90 days and archives the rest.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:   90,
		ArchiveEnabled:  true,
		CompressArchive: true,
	}
}
