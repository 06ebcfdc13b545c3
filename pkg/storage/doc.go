// Package storage holds the shared connection configuration for the
// backing services of the authorization stack.
//
// # Overview
//
// The package itself only defines Config and its defaults. The postgres
// subpackage turns a Config into live connections:
//
//   - postgres.NewConnectionManager: the PostgreSQL primary plus optional
//     read replicas used by the role, membership and audit stores
//   - postgres.NewRedisClient: the Redis client behind the shared tier of
//     the member-access cache and the distributed rate limiter
//   - postgres.NewS3Client: the S3 client the audit archiver uploads
//     expired events through
//
// Redis and S3 are optional. An empty RedisURL degrades caching to the
// in-process tier and rate limiting to per-instance windows; an empty
// S3Bucket means audit cleanup deletes instead of archiving.
//
// # Configuration
//
// Config values are normally populated from SITEDESK_* environment
// variables by the config package. DefaultConfig supplies pool sizes and
// timeouts suitable for a small deployment.
package storage
