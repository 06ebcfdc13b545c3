package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/httputil"
)

func requestWithIdentity(orgID, userID int64) *http.Request {
	r := httptest.NewRequest("GET", "/api/v1/roles", nil)
	ctx := auth.WithIdentity(r.Context(), &auth.Identity{OrganizationID: orgID, UserID: userID})
	return r.WithContext(ctx)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)

	key := "org:1:user:7"

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if limiter.Allow(key) {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("allowed %d requests, want %d", allowedCount, expected)
	}

	// After waiting, tokens should refill
	time.Sleep(time.Second)
	if !limiter.Allow(key) {
		t.Error("should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)

	key := "org:1:user:7"

	initial := limiter.Remaining(key)
	expected := config.RequestsPerWindow + config.BurstSize
	if initial != expected {
		t.Errorf("initial remaining = %d, want %d", initial, expected)
	}

	limiter.Allow(key)
	remaining := limiter.Remaining(key)
	if remaining != initial-1 {
		t.Errorf("after using 1 token, remaining = %d, want %d", remaining, initial-1)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    50 * time.Millisecond,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)

	keys := []string{"org:1:user:1", "org:1:user:2", "org:2:user:1"}
	for _, key := range keys {
		limiter.Allow(key)
	}

	if len(limiter.buckets) != len(keys) {
		t.Fatalf("buckets = %d, want %d", len(limiter.buckets), len(keys))
	}

	// Idle for more than two windows
	time.Sleep(150 * time.Millisecond)
	limiter.Cleanup()

	if len(limiter.buckets) != 0 {
		t.Errorf("buckets after cleanup = %d, want 0", len(limiter.buckets))
	}
}

func TestRateLimitMiddleware_SetsHeaders(t *testing.T) {
	m := NewRateLimitMiddleware(nil)
	handler := m.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithIdentity(1, 7))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "1000" {
		t.Errorf("X-RateLimit-Limit = %q, want 1000 for a resolved member", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1049" {
		t.Errorf("X-RateLimit-Remaining = %q, want 1049", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset should be set")
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	metrics := newTestMetrics()
	m := &RateLimitMiddleware{
		memberLimiter:    NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 0}),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
		metrics:          metrics,
	}
	handler := m.Handler(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestWithIdentity(1, 7))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithIdentity(1, 7))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != httputil.CodeRateLimited {
		t.Errorf("error = %+v, want code RATE_LIMITED", resp.Error)
	}
	if got := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("member")); got != 1 {
		t.Errorf("rate limited counter = %v, want 1", got)
	}
}

func TestRateLimitMiddleware_BucketsAreIndependent(t *testing.T) {
	m := &RateLimitMiddleware{
		memberLimiter:    NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, BurstSize: 0}),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
	handler := m.Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithIdentity(1, 7))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithIdentity(1, 7))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("user 7 second request: status = %d, want 429", rec.Code)
	}

	// Same org, different user: separate bucket
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithIdentity(1, 8))
	if rec.Code != http.StatusOK {
		t.Errorf("user 8: status = %d, want 200", rec.Code)
	}
}

func TestRateLimitMiddleware_AnonymousKeyedByIP(t *testing.T) {
	metrics := newTestMetrics()
	m := &RateLimitMiddleware{
		memberLimiter:    NewRateLimiter(PerMemberRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, BurstSize: 0}),
		metrics:          metrics,
	}
	handler := m.Handler(okHandler())

	send := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/api/v1/permissions", nil)
		r.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	if rec := send("10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want 200", rec.Code)
	}
	if rec := send("10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP: status = %d, want 429", rec.Code)
	}
	if rec := send("10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("request from other IP: status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(metrics.RateLimitedTotal.WithLabelValues("anonymous")); got != 1 {
		t.Errorf("anonymous rate limited counter = %v, want 1", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		realIP    string
		remote    string
		want      string
	}{
		{name: "forwarded single", forwarded: "1.2.3.4", want: "1.2.3.4"},
		{name: "forwarded chain takes client", forwarded: "1.2.3.4, 5.6.7.8", want: "1.2.3.4"},
		{name: "real ip fallback", realIP: "9.8.7.6", want: "9.8.7.6"},
		{name: "remote addr fallback", remote: "192.0.2.1:1234", want: "192.0.2.1:1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.remote != "" {
				r.RemoteAddr = tt.remote
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
