// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure: JSON logging over
// slog, metrics for the authorization pipeline, health probes, panic
// recovery and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//
// Request-scoped logging picks up the request id and caller identity from
// the context:
//
//	observability.FromContext(ctx).WithError(err).Error("role update failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordAuthzDecision("require_permission", false)
//	metrics.RecordCatalogReload(41, nil)
//
// Business metrics:
//
//	metrics.OrganizationsTotal.Set(float64(count))
//	metrics.PendingInvitationsTotal.Set(float64(pending))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
// Initialize tracing and metrics export:
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "sitedesk-api",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/authz: route guards that record decision metrics
//   - pkg/middleware: identity resolution and rate limit metrics
package observability
