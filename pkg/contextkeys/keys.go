// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/sitedesk/sitedesk/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.IdentityKey, identity)
//   identity := ctx.Value(contextkeys.IdentityKey).(*auth.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: All guards, query filter builder, audit trail
	// Type: *auth.Identity
	IdentityKey Key = "identity"

	// RoleKey contains the resolved *authz.Role for the current member
	// Set by: middleware.IdentityMiddleware after registry lookup
	// Required by: authz guards, authz.ProjectFilterFromContext
	// Type: *authz.Role
	RoleKey Key = "role"

	// MemberIDKey contains the org_members row id for the current request
	// Set by: middleware.IdentityMiddleware (only for assigned-scope roles)
	// Used by: project-access guards, audit trail
	// Type: int64
	MemberIDKey Key = "member_id"

	// ProjectAccessKey contains the member's accessible project id set
	// Set by: middleware.IdentityMiddleware (only for assigned-scope roles)
	// Required by: authz.RequireProjectAccess, authz.RequireResourceAccess,
	// authz.ProjectFilterFromContext
	// Type: []int64
	ProjectAccessKey Key = "project_access"

	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware, observability layer
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: Audit middleware (pkg/audit/middleware.go)
	// Used by: Handlers that record audit events
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: Audit middleware
	// Used by: Duration calculation for audit logs
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// Helper functions for type-safe context operations

// WithIdentity adds the resolved request identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRole adds the resolved role to the context
func WithRole(ctx context.Context, role interface{}) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// WithMemberID adds the organization member id to the context
func WithMemberID(ctx context.Context, memberID int64) context.Context {
	return context.WithValue(ctx, MemberIDKey, memberID)
}

// WithProjectAccess adds the accessible project id set to the context
func WithProjectAccess(ctx context.Context, projectIDs []int64) context.Context {
	return context.WithValue(ctx, ProjectAccessKey, projectIDs)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithAuditLogger adds audit logger to the context
func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime interface{}) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetMemberID retrieves the organization member id from context.
// The second return is false when no member lookup ran for this request.
func GetMemberID(ctx context.Context) (int64, bool) {
	memberID, ok := ctx.Value(MemberIDKey).(int64)
	return memberID, ok
}

// GetProjectAccess retrieves the accessible project id set from context.
// The second return is false when no access set was resolved; callers must
// treat that differently from an empty set.
func GetProjectAccess(ctx context.Context) ([]int64, bool) {
	projectIDs, ok := ctx.Value(ProjectAccessKey).([]int64)
	return projectIDs, ok
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
