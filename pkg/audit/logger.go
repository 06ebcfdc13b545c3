package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/contextkeys"
)

// Logger is the write side of the audit trail. Implementations must be safe
// for concurrent use. Log should be cheap enough to call on the request
// path; DBLogger buffers for that reason.
type Logger interface {
	// Log records one audit event.
	Log(ctx context.Context, event *Event) error

	// Close flushes buffered events and releases resources.
	Close() error
}

// WithLogger stores the audit logger on the context so handlers deep in the
// call tree can emit events without plumbing the logger through.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext returns the context's audit logger, or a no-op logger when
// none was installed. Callers never need a nil check.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards every event. Used when auditing is disabled and as the
// FromContext fallback.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// NewEvent builds an event stamped with the current time and whatever actor
// and request id the context carries.
func NewEvent(ctx context.Context, eventType EventType, status Status) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
	}

	if identity, ok := auth.FromContext(ctx); ok && identity != nil {
		event.UserID = &identity.UserID
		event.OrganizationID = &identity.OrganizationID
	}
	if requestID := contextkeys.GetRequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}

	return event
}

// WithRequest copies request details onto the event and returns it for
// chaining.
func (e *Event) WithRequest(r *http.Request) *Event {
	if r == nil {
		return e
	}
	e.IPAddress = clientIP(r)
	e.UserAgent = r.UserAgent()
	e.Method = r.Method
	e.Path = r.URL.Path
	return e
}

// LogSuccess records a successful operation using the context's logger.
func LogSuccess(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID, message string) error {
	event := NewEvent(ctx, eventType, StatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return FromContext(ctx).Log(ctx, event)
}

// LogFailure records a failed operation using the context's logger.
func LogFailure(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string, err error) error {
	event := NewEvent(ctx, eventType, StatusFailure)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogDenied records an authorization denial using the context's logger.
func LogDenied(ctx context.Context, resourceType ResourceType, resourceID, reason string) error {
	event := NewEvent(ctx, EventTypeAuthzDenied, StatusDenied)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = reason
	return FromContext(ctx).Log(ctx, event)
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
