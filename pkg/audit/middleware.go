package audit

import (
	"net/http"
	"strings"
	"time"

	"github.com/sitedesk/sitedesk/pkg/contextkeys"
)

// Middleware installs the audit logger on each request context and records
// request-level events.
type Middleware struct {
	logger Logger

	// logAll records every request instead of only mutations, failures and
	// sensitive paths. Noisy; meant for debugging.
	logAll bool
}

// NewMiddleware creates audit middleware around logger.
func NewMiddleware(logger Logger, logAll bool) *Middleware {
	return &Middleware{
		logger: logger,
		logAll: logAll,
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with audit logging.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ctx := WithLogger(r.Context(), m.logger)
		ctx = contextkeys.WithRequestStartTime(ctx, startTime)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		if !m.logAll && !m.shouldLogRequest(r, wrapped.statusCode) {
			return
		}

		status := StatusSuccess
		if wrapped.statusCode >= 400 {
			status = StatusFailure
		}
		if wrapped.statusCode == http.StatusForbidden {
			status = StatusDenied
		}

		event := NewEvent(ctx, EventTypeHTTPRequest, status).WithRequest(r)
		event.StatusCode = wrapped.statusCode
		event.Metadata = map[string]interface{}{
			"duration_ms": time.Since(startTime).Milliseconds(),
		}

		// A failed audit write must not fail the request.
		_ = m.logger.Log(ctx, event)
	})
}

// shouldLogRequest keeps the trail focused: every mutation, every failure,
// and reads of sensitive endpoints.
func (m *Middleware) shouldLogRequest(r *http.Request, statusCode int) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}

	if statusCode >= 400 {
		return true
	}

	return isSensitiveEndpoint(r.URL.Path)
}

// sensitivePrefixes are read endpoints whose access is still audit-worthy.
var sensitivePrefixes = []string{
	"/api/v1/roles",
	"/api/v1/members",
	"/api/v1/invitations",
	"/api/v1/audit",
	"/api/v1/access",
}

func isSensitiveEndpoint(path string) bool {
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
