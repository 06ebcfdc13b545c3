package orgs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitedesk/sitedesk/pkg/observability"
)

var cacheTracer = otel.Tracer("sitedesk/orgs/cache")

const (
	defaultAccessCacheSize = 4096
	defaultAccessL1TTL     = 30 * time.Second
	defaultAccessL2TTL     = 5 * time.Minute

	accessKeyPrefix = "sitedesk:access:"
)

// memberAccess is the cached shape of a membership lookup
type memberAccess struct {
	MemberID   int64   `json:"member_id"`
	ProjectIDs []int64 `json:"project_ids"`
}

// AccessCache fronts Store.MemberAccess with a two-tier cache: a local
// expiring LRU backed by a shared Redis tier. Absent memberships are not
// cached, so a freshly added member resolves on their next request. Redis
// failures degrade to the store instead of failing the lookup; peer
// instances may serve a stale local entry for at most the L1 TTL.
type AccessCache struct {
	store   *Store
	l1      *lru.LRU[string, memberAccess]
	redis   *redis.Client
	l2TTL   time.Duration
	metrics *observability.Metrics
}

// NewAccessCache creates the member-access cache. redisClient may be nil,
// which runs the cache L1-only. Non-positive sizes and TTLs fall back to
// the defaults; a nil metrics disables hit/miss counting.
func NewAccessCache(store *Store, redisClient *redis.Client, size int, l1TTL, l2TTL time.Duration, metrics *observability.Metrics) *AccessCache {
	if size <= 0 {
		size = defaultAccessCacheSize
	}
	if l1TTL <= 0 {
		l1TTL = defaultAccessL1TTL
	}
	if l2TTL <= 0 {
		l2TTL = defaultAccessL2TTL
	}

	return &AccessCache{
		store:   store,
		l1:      lru.NewLRU[string, memberAccess](size, nil, l1TTL),
		redis:   redisClient,
		l2TTL:   l2TTL,
		metrics: metrics,
	}
}

func accessKey(organizationID, userID int64) string {
	return fmt.Sprintf("%d:%d", organizationID, userID)
}

// MemberAccess resolves a user's membership id and accessible project ids,
// trying the local tier, then Redis, then the store.
func (c *AccessCache) MemberAccess(ctx context.Context, organizationID, userID int64) (int64, []int64, error) {
	ctx, span := cacheTracer.Start(ctx, "MemberAccess",
		trace.WithAttributes(
			attribute.Int64("organization_id", organizationID),
			attribute.Int64("user_id", userID),
		),
	)
	defer span.End()

	key := accessKey(organizationID, userID)
	if entry, ok := c.l1.Get(key); ok {
		c.recordHit("l1")
		span.SetAttributes(attribute.String("cache.tier", "l1"))
		return entry.MemberID, entry.ProjectIDs, nil
	}
	c.recordMiss("l1")

	if entry, ok := c.fromRedis(ctx, key); ok {
		c.recordHit("l2")
		span.SetAttributes(attribute.String("cache.tier", "l2"))
		c.l1.Add(key, entry)
		return entry.MemberID, entry.ProjectIDs, nil
	}

	memberID, projectIDs, err := c.store.MemberAccess(ctx, organizationID, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership lookup failed")
		return 0, nil, err
	}
	span.SetAttributes(attribute.String("cache.tier", "store"))
	if memberID == 0 {
		return 0, nil, nil
	}

	entry := memberAccess{MemberID: memberID, ProjectIDs: projectIDs}
	c.l1.Add(key, entry)
	c.toRedis(ctx, key, entry)
	return memberID, projectIDs, nil
}

// Invalidate drops a user's cached membership from both tiers. Redis
// errors are logged; the local eviction still applies.
func (c *AccessCache) Invalidate(ctx context.Context, organizationID, userID int64) {
	key := accessKey(organizationID, userID)
	c.l1.Remove(key)

	if c.redis == nil {
		return
	}
	start := time.Now()
	err := c.redis.Del(ctx, accessKeyPrefix+key).Err()
	if c.metrics != nil {
		c.metrics.RecordRedisCommand("del", time.Since(start), err)
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("member access cache invalidation failed")
	}
}

// Len reports the number of resident local entries
func (c *AccessCache) Len() int {
	return c.l1.Len()
}

func (c *AccessCache) fromRedis(ctx context.Context, key string) (memberAccess, bool) {
	var entry memberAccess
	if c.redis == nil {
		return entry, false
	}

	start := time.Now()
	data, err := c.redis.Get(ctx, accessKeyPrefix+key).Bytes()
	cmdErr := err
	if errors.Is(err, redis.Nil) {
		cmdErr = nil
	}
	if c.metrics != nil {
		c.metrics.RecordRedisCommand("get", time.Since(start), cmdErr)
	}

	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		c.recordMiss("l2")
		return entry, false
	default:
		observability.FromContext(ctx).WithError(err).Warn("member access cache read failed")
		return entry, false
	}

	if err := json.Unmarshal(data, &entry); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("member access cache entry corrupt")
		return entry, false
	}
	return entry, true
}

func (c *AccessCache) toRedis(ctx context.Context, key string, entry memberAccess) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	start := time.Now()
	err = c.redis.Set(ctx, accessKeyPrefix+key, data, c.l2TTL).Err()
	if c.metrics != nil {
		c.metrics.RecordRedisCommand("set", time.Since(start), err)
	}
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("member access cache write failed")
	}
}

func (c *AccessCache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit("member_access", tier)
	}
}

func (c *AccessCache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("member_access", tier)
	}
}
