package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/sitedesk/sitedesk/pkg/audit"
	"github.com/sitedesk/sitedesk/pkg/orgs"
	"github.com/sitedesk/sitedesk/pkg/storage"
	"github.com/sitedesk/sitedesk/pkg/storage/postgres"
)

var (
	dbURL              = flag.String("db-url", getEnv("SITEDESK_POSTGRES_URL", "postgres://localhost/sitedesk?sslmode=disable"), "PostgreSQL connection URL")
	invitationSchedule = flag.String("invitation-schedule", getEnv("SITEDESK_SWEEP_INVITATION_SCHEDULE", "*/30 * * * *"), "Cron schedule for expired invitation cleanup (default: every 30 minutes)")
	retentionSchedule  = flag.String("retention-schedule", getEnv("SITEDESK_SWEEP_RETENTION_SCHEDULE", "30 2 * * *"), "Cron schedule for audit retention enforcement (default: 02:30 UTC)")
	retentionDays      = flag.Int("retention-days", getEnvInt("SITEDESK_AUDIT_RETENTION_DAYS", 90), "Days of audit history to keep (0 disables the retention sweep)")
	archiveBucket      = flag.String("archive-bucket", getEnv("SITEDESK_S3_BUCKET", ""), "S3 bucket for expired audit events (empty disables archiving)")
	archiveCompress    = flag.Bool("archive-compress", getEnvBool("SITEDESK_AUDIT_COMPRESS_ARCHIVE", true), "Gzip archived audit batches")
	logLevel           = flag.String("log-level", getEnv("SITEDESK_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	runOnce            = flag.Bool("run-once", false, "Run all sweeps once and exit (for testing or manual runs)")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)
	logger.Info("Starting SiteDesk sweeper")

	db, err := connectDatabase(*dbURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	orgStore := orgs.NewStore(db)

	// Retention sweeps archive expired events to S3 first when a bucket is
	// configured; retention-days 0 disables them entirely.
	var auditStore audit.Store
	var policy audit.RetentionPolicy
	if *retentionDays > 0 {
		var archiver audit.Archiver
		if *archiveBucket != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s3Client, err := postgres.NewS3Client(ctx, s3Config())
			cancel()
			if err != nil {
				logger.Fatalf("Failed to initialize S3 archiver: %v", err)
			}
			archiver = audit.NewS3Archiver(s3Client.API(), s3Client.Bucket(), getEnv("SITEDESK_S3_PREFIX", "audit"), *archiveCompress)
		}
		auditStore = audit.NewDBStore(db, archiver)
		policy = audit.RetentionPolicy{
			RetentionDays:   *retentionDays,
			ArchiveEnabled:  *archiveBucket != "",
			CompressArchive: *archiveCompress,
		}
	}

	// Run once mode (for testing or manual sweeps)
	if *runOnce {
		logger.Info("Running sweeps once")
		failed := false
		if err := sweepInvitations(orgStore, logger); err != nil {
			logger.WithError(err).Error("Invitation sweep failed")
			failed = true
		}
		if auditStore != nil {
			if err := sweepAuditEvents(auditStore, policy, logger); err != nil {
				logger.WithError(err).Error("Audit retention sweep failed")
				failed = true
			}
		}
		if failed {
			os.Exit(1)
		}
		logger.Info("Sweeps completed successfully")
		return
	}

	// Scheduled mode
	c := cron.New()

	_, err = c.AddFunc(*invitationSchedule, func() {
		if err := sweepInvitations(orgStore, logger); err != nil {
			logger.WithError(err).Error("Invitation sweep failed")
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule invitation sweep: %v", err)
	}

	if auditStore != nil {
		_, err = c.AddFunc(*retentionSchedule, func() {
			if err := sweepAuditEvents(auditStore, policy, logger); err != nil {
				logger.WithError(err).Error("Audit retention sweep failed")
			}
		})
		if err != nil {
			logger.Fatalf("Failed to schedule audit retention sweep: %v", err)
		}
	}

	c.Start()
	logger.Infof("SiteDesk sweeper started; invitation schedule %q, retention schedule %q", *invitationSchedule, *retentionSchedule)

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down, waiting for running sweeps to finish")
	<-c.Stop().Done()
	logger.Info("Sweeper stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func connectDatabase(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Sweeps run one at a time; a small pool is plenty.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// s3Config assembles the archive bucket settings from the same environment
// variables the API server reads.
func s3Config() storage.Config {
	cfg := storage.DefaultConfig()
	cfg.S3Endpoint = getEnv("SITEDESK_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("SITEDESK_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = *archiveBucket
	cfg.S3AccessKey = getEnv("SITEDESK_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("SITEDESK_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("SITEDESK_S3_USE_PATH_STYLE", false)
	return cfg
}

// sweepInvitations removes invitations that expired without being accepted.
func sweepInvitations(store *orgs.Store, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := store.CleanupExpiredInvitations(ctx)
	if err != nil {
		return err
	}
	logger.WithField("removed", removed).Info("Expired invitations cleaned up")
	return nil
}

// sweepAuditEvents enforces the retention policy, archiving expired events
// first when archiving is enabled. Archiving batches can take a while on a
// backlog, hence the generous timeout.
func sweepAuditEvents(store audit.Store, policy audit.RetentionPolicy, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	removed, err := store.Cleanup(ctx, policy)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"removed":        removed,
		"retention_days": policy.RetentionDays,
	}).Info("Audit retention enforced")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}
