package api

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitedesk/sitedesk/pkg/async"
	"github.com/sitedesk/sitedesk/pkg/observability"
)

const (
	// DefaultStatsInterval is how often business gauges are refreshed.
	DefaultStatsInterval = 30 * time.Second

	statsQueryTimeout = 10 * time.Second
)

// StatsPoller periodically refreshes the business gauges (organization,
// member, custom role and pending invitation counts) and the database pool
// stats. Point it at a read replica when one is available; every query is a
// plain COUNT.
type StatsPoller struct {
	db       *sql.DB
	metrics  *observability.Metrics
	logger   *observability.Logger
	interval time.Duration
}

// NewStatsPoller creates a poller. A non-positive interval falls back to
// DefaultStatsInterval.
func NewStatsPoller(db *sql.DB, metrics *observability.Metrics, logger *observability.Logger, interval time.Duration) *StatsPoller {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &StatsPoller{
		db:       db,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
	}
}

// Start launches the polling loop and returns immediately. The loop refreshes
// once up front and then on every tick until ctx is canceled.
func (p *StatsPoller) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *StatsPoller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.refreshAsync(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshAsync(ctx)
		}
	}
}

// refreshAsync runs one refresh off the loop goroutine so a slow database
// never delays the next tick and a panic never kills the loop.
func (p *StatsPoller) refreshAsync(ctx context.Context) {
	async.SafeGoNoError(ctx, statsQueryTimeout, "stats refresh", p.refresh)
}

func (p *StatsPoller) refresh(ctx context.Context) {
	stats := []struct {
		name  string
		query string
		args  []interface{}
		gauge prometheus.Gauge
	}{
		{
			name:  "organizations",
			query: `SELECT COUNT(*) FROM organizations`,
			gauge: p.metrics.OrganizationsTotal,
		},
		{
			name:  "org_members",
			query: `SELECT COUNT(*) FROM org_members`,
			gauge: p.metrics.OrgMembersTotal,
		},
		{
			name:  "custom_roles",
			query: `SELECT COUNT(*) FROM roles WHERE organization_id IS NOT NULL`,
			gauge: p.metrics.CustomRolesTotal,
		},
		{
			name:  "pending_invitations",
			query: `SELECT COUNT(*) FROM org_invitations WHERE accepted_at IS NULL AND expires_at > $1`,
			args:  []interface{}{time.Now()},
			gauge: p.metrics.PendingInvitationsTotal,
		},
	}

	for _, s := range stats {
		var count int64
		if err := p.db.QueryRowContext(ctx, s.query, s.args...).Scan(&count); err != nil {
			p.logger.WithError(err).WithField("stat", s.name).Warn("stats refresh query failed")
			continue
		}
		s.gauge.Set(float64(count))
	}

	p.metrics.UpdateDBStats(p.db.Stats())
}
