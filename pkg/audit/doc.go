// Package audit records who did what to the authorization surface: role
// edits, membership changes, invitations, project access grants and denied
// requests.
//
// # Overview
//
// Events flow through the Logger interface. Three implementations ship:
//
//   - DBLogger: buffered writes to the audit_events Postgres table, batched
//     by a background goroutine so request handlers never block on the
//     audit path
//   - FileLogger: newline-delimited JSON on local disk with size rotation
//   - MultiLogger: fan-out to several destinations, async by default
//
// The read side is the Store interface (DBStore), which backs the query
// API, exports and retention sweeps.
//
// # Event Types
//
// Role registry: role.created, role.updated, role.deleted
// Membership: member.added, member.role_changed, member.removed
// Invitations: invitation.created, invitation.accepted, invitation.revoked
// Project access: access.granted, access.revoked
// Authorization: authz.denied
// Operational: catalog.reloaded, http.request
//
// # Usage Example
//
// Handlers usually go through the convenience helpers, which pick the actor
// and request id off the context:
//
//	audit.LogSuccess(ctx, audit.EventTypeRoleCreate, audit.ResourceRole,
//		strconv.FormatInt(role.ID, 10), "")
//
//	audit.LogDenied(ctx, audit.ResourceProjectAccess,
//		strconv.FormatInt(projectID, 10), "no access to this project")
//
// Query the trail:
//
//	events, err := store.Search(ctx, audit.SearchFilter{
//		StartTime:  &dayAgo,
//		EventTypes: []audit.EventType{audit.EventTypeRoleDelete},
//		Status:     &failed,
//	})
//
// # Retention
//
// Cleanup applies a RetentionPolicy: events past the retention window are
// uploaded to S3 as gzipped NDJSON (when archiving is enabled) and then
// deleted in batches. The sweeper binary runs this on a schedule.
//
// # Related Packages
//
//   - pkg/authz: emits role registry and denial events
//   - pkg/orgs: emits membership, invitation and access events
//   - pkg/middleware: installs the logger on request contexts
package audit
