package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordHTTPRequest(ctx, "GET", "/roles/{id}", 200, 120*time.Millisecond, 256, 1024)
	m.RecordAuthzDecision(ctx, "require_role", false)
	m.RecordDBQuery(ctx, "get_role", 5*time.Millisecond, nil)
	m.RecordDBQuery(ctx, "get_role", time.Millisecond, errors.New("timeout"))
	m.RecordCacheHit(ctx, "org_context")
	m.RecordCacheMiss(ctx, "org_context")
	m.RecordCacheEviction(ctx, "org_context")
	m.UpdateDBConnectionStats(ctx, 3, 2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	names := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			names[metric.Name] = true
		}
	}

	for _, want := range []string{
		"http.server.requests",
		"http.server.duration",
		"authz.decisions",
		"db.queries.total",
		"db.query.duration",
		"cache.hits.total",
		"cache.misses.total",
		"cache.evictions.total",
		"db.connections.active",
	} {
		if !names[want] {
			t.Errorf("Expected %s in collected metrics", want)
		}
	}
}

func TestOTelMetrics_SkipsZeroSizes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := NewOTelMetrics()
	if err != nil {
		t.Fatalf("NewOTelMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond, 0, 0)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}

	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name == "http.server.request.size" {
				if hist, ok := metric.Data.(metricdata.Histogram[int64]); ok && len(hist.DataPoints) > 0 {
					t.Error("Expected no request size datapoints for a bodyless request")
				}
			}
		}
	}
}
