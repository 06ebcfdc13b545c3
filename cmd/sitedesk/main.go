package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitedesk/sitedesk/pkg/api"
	"github.com/sitedesk/sitedesk/pkg/async"
	"github.com/sitedesk/sitedesk/pkg/audit"
	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/authz"
	"github.com/sitedesk/sitedesk/pkg/config"
	"github.com/sitedesk/sitedesk/pkg/middleware"
	"github.com/sitedesk/sitedesk/pkg/observability"
	"github.com/sitedesk/sitedesk/pkg/orgs"
	"github.com/sitedesk/sitedesk/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	async.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry (no-op when disabled)
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	var metrics *observability.Metrics
	var registry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	// Database
	cm, err := postgres.NewConnectionManager(cfg.Storage, logger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer cm.Close()
	cm.StartHealthCheckRoutine(ctx, 30*time.Second)
	db := cm.Primary()

	// Migrations: roles first, the membership tables reference them
	if err := authz.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run authz migrations: %v", err)
	}
	if err := orgs.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run orgs migrations: %v", err)
	}

	// Permission catalog
	catalog := authz.DefaultCatalog()
	if cfg.Authz.CatalogPath != "" {
		catalog, err = authz.LoadCatalogFile(cfg.Authz.CatalogPath)
		if err != nil {
			log.Fatalf("Failed to load permission catalog: %v", err)
		}
		logger.WithField("permissions", catalog.Len()).Infof("Permission catalog loaded from %s", cfg.Authz.CatalogPath)
	}

	roleStore := authz.NewStore(db, catalog, cfg.Authz.UnknownPermissionMode)
	if err := roleStore.SeedSystemRoles(ctx); err != nil {
		log.Fatalf("Failed to seed system roles: %v", err)
	}

	// Redis is optional; everything it backs degrades to in-process
	// equivalents when it is absent.
	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without the shared cache tier")
			redisClient = nil
		}
	}

	orgStore := orgs.NewStore(db)

	var roleCache *authz.RoleCache
	var accessCache *orgs.AccessCache
	if cfg.Cache.Enabled {
		roleCache = authz.NewRoleCache(roleStore, cfg.Cache.RoleCacheSize, cfg.Cache.RoleCacheTTL, metrics)
		accessCache = orgs.NewAccessCache(orgStore, redisClient,
			cfg.Cache.AccessCacheSize, cfg.Cache.AccessL1TTL, cfg.Cache.AccessL2TTL, metrics)
	}

	orgService := orgs.NewService(orgStore, accessCache, roleStore)

	// Audit trail: buffered database writer, optionally mirrored to
	// rotating files.
	var auditor audit.Logger
	var auditStore audit.Store
	if cfg.Audit.Enabled {
		dbLogger, err := audit.NewDBLogger(db, audit.DBLoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
		})
		if err != nil {
			log.Fatalf("Failed to initialize audit logger: %v", err)
		}
		auditor = dbLogger

		if cfg.Audit.LogPath != "" {
			fileCfg := audit.DefaultFileLoggerConfig()
			fileCfg.BasePath = cfg.Audit.LogPath
			fileLogger, err := audit.NewFileLogger(fileCfg)
			if err != nil {
				log.Fatalf("Failed to initialize audit file logger: %v", err)
			}
			auditor = audit.NewMultiLogger(dbLogger, fileLogger)
		}

		// Queries tolerate replica lag; archiving stays with the sweeper.
		auditStore = audit.NewDBStore(cm.Replica(), nil)
	}

	// Hot-reload the catalog on file changes. Role writes validate against
	// the live catalog, so cached roles are purged and the swap lands in
	// the audit trail after every reload.
	if cfg.Authz.CatalogPath != "" && cfg.Authz.CatalogWatch {
		watchPath := cfg.Authz.CatalogPath
		watchCtx := ctx
		if auditor != nil {
			watchCtx = audit.WithLogger(ctx, auditor)
		}
		go func() {
			defer observability.RecoverPanic(logger.WithField("task", "catalog watch"), "background task")
			err := catalog.Watch(watchCtx, watchPath, func(reloadErr error) {
				if metrics != nil {
					metrics.RecordCatalogReload(catalog.Len(), reloadErr)
				}
				if reloadErr != nil {
					logger.WithError(reloadErr).Error("Permission catalog reload failed, previous catalog stays live")
					_ = audit.LogFailure(watchCtx, audit.EventTypeCatalogReload, audit.ResourceCatalog, watchPath, reloadErr)
					return
				}
				logger.WithField("permissions", catalog.Len()).Info("Permission catalog reloaded")
				_ = audit.LogSuccess(watchCtx, audit.EventTypeCatalogReload, audit.ResourceCatalog, watchPath,
					fmt.Sprintf("catalog reloaded with %d permissions", catalog.Len()))
				if roleCache != nil {
					roleCache.Purge()
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("Permission catalog watcher stopped")
			}
		}()
	}

	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		memberLimits := &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			WindowDuration:    cfg.RateLimit.Window,
			BurstSize:         cfg.RateLimit.Burst,
		}
		if redisClient != nil {
			rl := middleware.NewDistributedRateLimitMiddlewareWithConfigs(redisClient, memberLimits, nil, metrics)
			rateLimit = rl.Handler
		} else {
			rl := middleware.NewRateLimitMiddlewareWithConfigs(memberLimits, nil, metrics)
			rl.StartCleanup(ctx)
			rateLimit = rl.Handler
		}
	}

	var resolver auth.Resolver
	if cfg.Auth.TrustHeaders {
		logger.Warn("Trusting identity headers; only safe behind a verified proxy")
		resolver = auth.HeaderResolver{}
	} else {
		resolver = auth.NewTokenResolver(cfg.Auth.JWTSecret)
	}

	server := api.NewServer(api.Options{
		Logger:     logger,
		Metrics:    metrics,
		Resolver:   resolver,
		Members:    orgService,
		RoleStore:  roleStore,
		RoleCache:  roleCache,
		OrgService: orgService,
		Auditor:    auditor,
		AuditStore: auditStore,
		RateLimit:  rateLimit,
		Tracing:    cfg.Observability.OTelEnabled,
	})

	if metrics != nil {
		poller := api.NewStatsPoller(cm.Replica(), metrics, logger, api.DefaultStatsInterval)
		poller.Start(ctx)
	}

	// Health and metrics on a separate port so probes bypass identity
	checker := observability.NewHealthChecker(db, redisClient)
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: api.HealthRouter(checker, registry),
	}
	go func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sm := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	if auditor != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			// Drains buffered audit events
			return auditor.Close()
		})
	}
	if providers != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}
	if redisClient != nil {
		sm.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		// Stops the pollers and watchers before the connections close
		cancel()
		return nil
	})

	go func() {
		logger.Infof("SiteDesk authorization API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	if err := sm.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
