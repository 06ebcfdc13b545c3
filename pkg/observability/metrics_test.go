package observability

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	metrics := newTestMetrics()
	if metrics == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if metrics.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal is nil")
	}
	if metrics.AuthzDecisionsTotal == nil {
		t.Error("AuthzDecisionsTotal is nil")
	}
	if metrics.CatalogReloadsTotal == nil {
		t.Error("CatalogReloadsTotal is nil")
	}
	if metrics.AuditEventsTotal == nil {
		t.Error("AuditEventsTotal is nil")
	}
}

func TestRecordAuthzDecision(t *testing.T) {
	metrics := newTestMetrics()

	metrics.RecordAuthzDecision("require_role", true)
	metrics.RecordAuthzDecision("require_permission", false)
	metrics.RecordAuthzDecision("require_permission", false)

	allowed := testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("require_role", "allowed"))
	if allowed != 1 {
		t.Errorf("Expected 1 allowed require_role decision, got %v", allowed)
	}

	denied := testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("require_permission", "denied"))
	if denied != 2 {
		t.Errorf("Expected 2 denied require_permission decisions, got %v", denied)
	}
}

func TestRecordIdentityResolution(t *testing.T) {
	metrics := newTestMetrics()

	metrics.RecordIdentityResolution("resolved")
	metrics.RecordIdentityResolution("missing_context")

	if got := testutil.ToFloat64(metrics.IdentityResolutionsTotal.WithLabelValues("resolved")); got != 1 {
		t.Errorf("Expected 1 resolved resolution, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.IdentityResolutionsTotal.WithLabelValues("missing_context")); got != 1 {
		t.Errorf("Expected 1 missing_context resolution, got %v", got)
	}
}

func TestRecordCatalogReload(t *testing.T) {
	metrics := newTestMetrics()

	metrics.RecordCatalogReload(41, nil)
	if got := testutil.ToFloat64(metrics.CatalogReloadsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful reload, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CatalogPermissions); got != 41 {
		t.Errorf("Expected catalog size 41, got %v", got)
	}

	metrics.RecordCatalogReload(0, errors.New("parse error"))
	if got := testutil.ToFloat64(metrics.CatalogReloadsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("Expected 1 failed reload, got %v", got)
	}
	// A failed reload keeps the last good size
	if got := testutil.ToFloat64(metrics.CatalogPermissions); got != 41 {
		t.Errorf("Expected catalog size to stay 41, got %v", got)
	}
}

func TestRecordRedisCommand(t *testing.T) {
	metrics := newTestMetrics()

	metrics.RecordRedisCommand("get", 2*time.Millisecond, nil)
	metrics.RecordRedisCommand("get", time.Millisecond, errors.New("connection refused"))

	if got := testutil.ToFloat64(metrics.RedisCommandsTotal.WithLabelValues("get", "ok")); got != 1 {
		t.Errorf("Expected 1 ok get, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RedisCommandsTotal.WithLabelValues("get", "error")); got != 1 {
		t.Errorf("Expected 1 failed get, got %v", got)
	}
}

func TestRecordCacheHitMiss(t *testing.T) {
	metrics := newTestMetrics()

	metrics.RecordCacheHit("org_context", "l1")
	metrics.RecordCacheMiss("org_context", "l2")

	if got := testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("org_context", "l1")); got != 1 {
		t.Errorf("Expected 1 l1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("org_context", "l2")); got != 1 {
		t.Errorf("Expected 1 l2 miss, got %v", got)
	}
}

func TestRecordRateLimitedAndAudit(t *testing.T) {
	metrics := newTestMetrics()

	metrics.RecordRateLimited("per_org")
	metrics.RecordAuditEvent("role.created", "success")

	if got := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("per_org")); got != 1 {
		t.Errorf("Expected 1 rate limited request, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.AuditEventsTotal.WithLabelValues("role.created", "success")); got != 1 {
		t.Errorf("Expected 1 audit event, got %v", got)
	}
}

func TestUpdateDBStats(t *testing.T) {
	metrics := newTestMetrics()

	metrics.UpdateDBStats(sql.DBStats{
		InUse:        3,
		Idle:         2,
		WaitCount:    7,
		WaitDuration: 1500 * time.Millisecond,
	})

	if got := testutil.ToFloat64(metrics.DBConnectionsActive); got != 3 {
		t.Errorf("Expected 3 active connections, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsIdle); got != 2 {
		t.Errorf("Expected 2 idle connections, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsWaitCount); got != 7 {
		t.Errorf("Expected wait count 7, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.DBConnectionsWaitDuration); got != 1.5 {
		t.Errorf("Expected wait duration 1.5s, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := newTestMetrics()

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/roles/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/roles/42", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	// The path label is the route template, not the concrete URL
	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/roles/{id}", "200"))
	if count != 1 {
		t.Errorf("Expected 1 request counted for route template, got %v", count)
	}

	if got := testutil.CollectAndCount(metrics.HTTPRequestDuration); got != 1 {
		t.Errorf("Expected 1 duration series, got %d", got)
	}
}

func TestRouteLabelFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/unrouted/path", nil)
	if got := routeLabel(r); got != "/unrouted/path" {
		t.Errorf("Expected raw path fallback, got %q", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordAuthzDecision("require_role", false)

	router := mux.NewRouter()
	RegisterMetricsEndpoint(router, registry)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", w.Code)
	}

	body, err := io.ReadAll(w.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "sitedesk_authz_decisions_total") {
		t.Error("Expected exposition to contain sitedesk_authz_decisions_total")
	}
}
