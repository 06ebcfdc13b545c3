package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sitedesk/sitedesk/pkg/authz"
	"github.com/sitedesk/sitedesk/pkg/observability"
	"github.com/sitedesk/sitedesk/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Identity resolution
	Auth AuthConfig

	// Permission catalog and role registry
	Authz AuthzConfig

	// Role and member-access caches
	Cache CacheConfig

	// Request rate limiting
	RateLimit RateLimitConfig

	// Audit logging
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds identity resolution settings
type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens
	JWTSecret string

	// TokenTTL bounds the lifetime of issued tokens
	TokenTTL time.Duration

	// TrustHeaders resolves identities from x-organization-id and
	// x-user-id headers instead of verified tokens. Only suitable behind
	// a trusted proxy or in development.
	TrustHeaders bool
}

// AuthzConfig holds permission catalog settings
type AuthzConfig struct {
	// CatalogPath loads the permission catalog from a YAML file. Empty
	// uses the built-in catalog.
	CatalogPath string

	// CatalogWatch reloads the catalog whenever the file changes
	CatalogWatch bool

	// UnknownPermissionMode decides what role writes do with permission
	// ids absent from the catalog: reject or drop.
	UnknownPermissionMode authz.UnknownPermissionMode
}

// CacheConfig holds cache sizing. The L2 tier only applies when Redis is
// configured.
type CacheConfig struct {
	Enabled bool

	RoleCacheSize int
	RoleCacheTTL  time.Duration

	AccessCacheSize int
	AccessL1TTL     time.Duration
	AccessL2TTL     time.Duration
}

// RateLimitConfig holds request rate limiting settings. The limits apply
// to resolved members; anonymous traffic keeps the fixed built-in tier.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// AuditConfig holds audit logging settings
type AuditConfig struct {
	Enabled bool

	// Buffered database writer
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration

	// LogPath mirrors events to rotating files when set
	LogPath string

	// Retention enforced by the sweeper
	RetentionDays   int
	ArchiveEnabled  bool
	CompressArchive bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Authz:         loadAuthzConfig(),
		Cache:         loadCacheConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SITEDESK_HOST", "0.0.0.0"),
		Port:            getEnv("SITEDESK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SITEDESK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SITEDESK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SITEDESK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SITEDESK_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SITEDESK_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("SITEDESK_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("SITEDESK_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("SITEDESK_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("SITEDESK_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("SITEDESK_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	if lifetime := getEnvDuration("SITEDESK_POSTGRES_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.PostgresMaxLifetime = lifetime
	}
	if idle := getEnvDuration("SITEDESK_POSTGRES_MAX_IDLE_TIME", 0); idle > 0 {
		cfg.PostgresMaxIdleTime = idle
	}

	// Redis config
	if redisURL := getEnv("SITEDESK_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("SITEDESK_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("SITEDESK_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("SITEDESK_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("SITEDESK_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// S3 config (audit archives)
	if s3Endpoint := getEnv("SITEDESK_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("SITEDESK_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("SITEDESK_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3Prefix := getEnv("SITEDESK_S3_PREFIX", ""); s3Prefix != "" {
		cfg.S3Prefix = s3Prefix
	}
	if s3AccessKey := getEnv("SITEDESK_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("SITEDESK_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("SITEDESK_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}

	return cfg
}

// loadAuthConfig loads identity resolution settings from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:    getEnv("SITEDESK_JWT_SECRET", ""),
		TokenTTL:     getEnvDuration("SITEDESK_TOKEN_TTL", 24*time.Hour),
		TrustHeaders: getEnvBool("SITEDESK_TRUST_IDENTITY_HEADERS", false),
	}
}

// loadAuthzConfig loads permission catalog settings from environment
func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		CatalogPath:           getEnv("SITEDESK_CATALOG_PATH", ""),
		CatalogWatch:          getEnvBool("SITEDESK_CATALOG_WATCH", false),
		UnknownPermissionMode: authz.UnknownPermissionMode(getEnv("SITEDESK_UNKNOWN_PERMISSION_MODE", string(authz.UnknownPermissionReject))),
	}
}

// loadCacheConfig loads cache sizing from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:         getEnvBool("SITEDESK_CACHE_ENABLED", true),
		RoleCacheSize:   getEnvInt("SITEDESK_ROLE_CACHE_SIZE", 1024),
		RoleCacheTTL:    getEnvDuration("SITEDESK_ROLE_CACHE_TTL", 30*time.Second),
		AccessCacheSize: getEnvInt("SITEDESK_ACCESS_CACHE_SIZE", 4096),
		AccessL1TTL:     getEnvDuration("SITEDESK_ACCESS_CACHE_L1_TTL", 30*time.Second),
		AccessL2TTL:     getEnvDuration("SITEDESK_ACCESS_CACHE_L2_TTL", 5*time.Minute),
	}
}

// loadRateLimitConfig loads rate limiting settings from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("SITEDESK_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("SITEDESK_RATE_LIMIT_REQUESTS", 1000),
		Window:            getEnvDuration("SITEDESK_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("SITEDESK_RATE_LIMIT_BURST", 50),
	}
}

// loadAuditConfig loads audit settings from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:         getEnvBool("SITEDESK_AUDIT_ENABLED", true),
		BufferSize:      getEnvInt("SITEDESK_AUDIT_BUFFER_SIZE", 1024),
		BatchSize:       getEnvInt("SITEDESK_AUDIT_BATCH_SIZE", 64),
		FlushInterval:   getEnvDuration("SITEDESK_AUDIT_FLUSH_INTERVAL", 2*time.Second),
		LogPath:         getEnv("SITEDESK_AUDIT_LOG_PATH", ""),
		RetentionDays:   getEnvInt("SITEDESK_AUDIT_RETENTION_DAYS", 90),
		ArchiveEnabled:  getEnvBool("SITEDESK_AUDIT_ARCHIVE_ENABLED", false),
		CompressArchive: getEnvBool("SITEDESK_AUDIT_COMPRESS_ARCHIVE", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("SITEDESK_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SITEDESK_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SITEDESK_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SITEDESK_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SITEDESK_OTEL_SERVICE_NAME", "sitedesk-authz"),
		OTelServiceVersion: getEnv("SITEDESK_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SITEDESK_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("SITEDESK_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate identity resolution: header identities are only acceptable
	// when explicitly chosen, everything else needs a signing secret
	if !c.Auth.TrustHeaders && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required unless identity headers are trusted")
	}

	if !c.Authz.UnknownPermissionMode.Valid() {
		return fmt.Errorf("invalid unknown permission mode: %s (must be reject or drop)", c.Authz.UnknownPermissionMode)
	}

	// Archiving needs a bucket to archive into
	if c.Audit.ArchiveEnabled && c.Storage.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit archiving is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
