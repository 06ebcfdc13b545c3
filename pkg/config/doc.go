// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	SITEDESK_HOST="0.0.0.0"
//	SITEDESK_PORT="8080"
//	SITEDESK_HEALTH_PORT="9090"
//	SITEDESK_READ_TIMEOUT="15s"
//	SITEDESK_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	SITEDESK_POSTGRES_URL="postgres://localhost/sitedesk"
//	SITEDESK_POSTGRES_REPLICA_URLS="postgres://replica1,postgres://replica2"
//	SITEDESK_POSTGRES_MAX_CONNS="25"
//	SITEDESK_REDIS_URL="redis://localhost:6379"  # empty disables Redis tiers
//	SITEDESK_S3_BUCKET="sitedesk-audit"
//	SITEDESK_S3_REGION="us-east-1"
//
// Identity settings:
//
//	SITEDESK_JWT_SECRET="..."
//	SITEDESK_TOKEN_TTL="24h"
//	SITEDESK_TRUST_IDENTITY_HEADERS="false"  # dev only, resolves x-user-id headers
//
// Permission catalog settings:
//
//	SITEDESK_CATALOG_PATH="/etc/sitedesk/permissions.yaml"  # empty uses built-in catalog
//	SITEDESK_CATALOG_WATCH="false"
//	SITEDESK_UNKNOWN_PERMISSION_MODE="reject"  # reject, drop
//
// Cache settings:
//
//	SITEDESK_CACHE_ENABLED="true"
//	SITEDESK_ROLE_CACHE_SIZE="1024"
//	SITEDESK_ROLE_CACHE_TTL="30s"
//	SITEDESK_ACCESS_CACHE_SIZE="4096"
//	SITEDESK_ACCESS_CACHE_L1_TTL="30s"
//	SITEDESK_ACCESS_CACHE_L2_TTL="5m"
//
// Rate limit settings:
//
//	SITEDESK_RATE_LIMIT_ENABLED="true"
//	SITEDESK_RATE_LIMIT_REQUESTS="100"
//	SITEDESK_RATE_LIMIT_WINDOW="1m"
//	SITEDESK_RATE_LIMIT_BURST="10"
//
// Audit settings:
//
//	SITEDESK_AUDIT_ENABLED="true"
//	SITEDESK_AUDIT_BUFFER_SIZE="1024"
//	SITEDESK_AUDIT_BATCH_SIZE="64"
//	SITEDESK_AUDIT_FLUSH_INTERVAL="2s"
//	SITEDESK_AUDIT_LOG_PATH=""  # mirrors events to rotating files when set
//	SITEDESK_AUDIT_RETENTION_DAYS="90"
//	SITEDESK_AUDIT_ARCHIVE_ENABLED="false"  # requires SITEDESK_S3_BUCKET
//
// Observability settings:
//
//	SITEDESK_LOG_LEVEL="info"  # debug, info, warn, error
//	SITEDESK_METRICS_ENABLED="true"
//	SITEDESK_OTEL_ENABLED="false"
//	SITEDESK_OTEL_ENDPOINT="otel-collector:4317"
//	SITEDESK_OTEL_SAMPLE_RATIO="1.0"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Postgres: %s\n", cfg.Storage.PostgresURL)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
