package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveThrough(t *testing.T, m *Middleware, method, path string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, nil)
	m.Handler(handler).ServeHTTP(w, r)
	return w
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware_SkipsQuietReads(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, false)

	serveThrough(t, m, "GET", "/api/v1/projects", okHandler)

	assert.Empty(t, capture.captured())
}

func TestMiddleware_LogsMutations(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, false)

	serveThrough(t, m, "POST", "/api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	events := capture.captured()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeHTTPRequest, events[0].EventType)
	assert.Equal(t, StatusSuccess, events[0].Status)
	assert.Equal(t, http.StatusCreated, events[0].StatusCode)
	assert.Equal(t, "POST", events[0].Method)
	assert.Contains(t, events[0].Metadata, "duration_ms")
}

func TestMiddleware_LogsFailures(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, false)

	serveThrough(t, m, "GET", "/api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	events := capture.captured()
	require.Len(t, events, 1)
	assert.Equal(t, StatusFailure, events[0].Status)
}

func TestMiddleware_ForbiddenIsDenied(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, false)

	serveThrough(t, m, "GET", "/api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	events := capture.captured()
	require.Len(t, events, 1)
	assert.Equal(t, StatusDenied, events[0].Status)
}

func TestMiddleware_LogsSensitiveReads(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, false)

	serveThrough(t, m, "GET", "/api/v1/roles", okHandler)

	events := capture.captured()
	require.Len(t, events, 1)
	assert.Equal(t, "/api/v1/roles", events[0].Path)
}

func TestMiddleware_LogAllMode(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, true)

	serveThrough(t, m, "GET", "/healthz", okHandler)

	assert.Len(t, capture.captured(), 1)
}

func TestMiddleware_InstallsLoggerOnContext(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, false)

	serveThrough(t, m, "GET", "/api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		// Handlers reach the logger through the context.
		assert.Same(t, Logger(capture), FromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_DefaultStatusIs200(t *testing.T) {
	capture := &captureLogger{}
	m := NewMiddleware(capture, true)

	// Handler writes a body without an explicit WriteHeader.
	serveThrough(t, m, "GET", "/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	events := capture.captured()
	require.Len(t, events, 1)
	assert.Equal(t, http.StatusOK, events[0].StatusCode)
}

func TestIsSensitiveEndpoint(t *testing.T) {
	assert.True(t, isSensitiveEndpoint("/api/v1/roles/5"))
	assert.True(t, isSensitiveEndpoint("/api/v1/audit/events"))
	assert.True(t, isSensitiveEndpoint("/api/v1/members"))
	assert.False(t, isSensitiveEndpoint("/api/v1/projects"))
	assert.False(t, isSensitiveEndpoint("/healthz"))
}
