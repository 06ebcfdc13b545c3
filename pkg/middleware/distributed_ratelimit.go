package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sitedesk/sitedesk/pkg/auth"
	"github.com/sitedesk/sitedesk/pkg/httputil"
	"github.com/sitedesk/sitedesk/pkg/observability"
)

// DistributedRateLimiter implements fixed-window rate limiting in Redis so
// limits hold across multiple instances.
type DistributedRateLimiter struct {
	redis   *redis.Client
	config  *RateLimitConfig
	prefix  string
	metrics *observability.Metrics
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string, metrics *observability.Metrics) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &DistributedRateLimiter{
		redis:   redisClient,
		config:  config,
		prefix:  prefix,
		metrics: metrics,
	}
}

// Allow checks if a request is allowed. The window is fixed: the counter
// expires WindowDuration after its first increment, not its last, so a
// client over the limit is unblocked when the window rolls over even if it
// keeps retrying.
//
// On Redis errors Allow fails open, returning true alongside the error so
// callers can count the failure without blocking traffic.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	start := time.Now()
	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if rl.metrics != nil {
		rl.metrics.RecordRedisCommand("incr", time.Since(start), err)
	}
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the number of remaining requests in the window
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := rl.redis.Get(ctx, redisKey).Int()
	if err == redis.Nil {
		return rl.config.RequestsPerWindow, nil
	} else if err != nil {
		return 0, err
	}

	remaining := rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.TTL(ctx, redisKey).Result()
}

// Reset clears the rate limit for a key (for testing or admin purposes)
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)
	return rl.redis.Del(ctx, redisKey).Err()
}

// DistributedRateLimitMiddleware provides HTTP rate limiting with Redis
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	memberLimiter    *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	metrics          *observability.Metrics
	fallbackEnabled  bool
}

// NewDistributedRateLimitMiddleware creates a new Redis-backed rate limit
// middleware with the default tier limits. A nil metrics disables counting.
func NewDistributedRateLimitMiddleware(redisClient *redis.Client, metrics *observability.Metrics) *DistributedRateLimitMiddleware {
	return NewDistributedRateLimitMiddlewareWithConfigs(redisClient, nil, nil, metrics)
}

// NewDistributedRateLimitMiddlewareWithConfigs creates a Redis-backed rate
// limit middleware with explicit member and anonymous tier limits. Nil
// configs fall back to the tier defaults.
func NewDistributedRateLimitMiddlewareWithConfigs(redisClient *redis.Client, member, anonymous *RateLimitConfig, metrics *observability.Metrics) *DistributedRateLimitMiddleware {
	if member == nil {
		member = PerMemberRateLimitConfig()
	}
	if anonymous == nil {
		anonymous = DefaultRateLimitConfig()
	}
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		memberLimiter:    NewDistributedRateLimiter(redisClient, member, "ratelimit:member", metrics),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, anonymous, "ratelimit:anon", metrics),
		metrics:          metrics,
		fallbackEnabled:  true, // fail open on Redis errors
	}
}

// Handler wraps an HTTP handler with distributed rate limiting
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var key string
		var limiter *DistributedRateLimiter
		var class string

		if identity, ok := auth.FromContext(ctx); ok {
			key = fmt.Sprintf("org:%d:user:%d", identity.OrganizationID, identity.UserID)
			limiter = m.memberLimiter
			class = "member"
		} else {
			key = "ip:" + getClientIP(r)
			limiter = m.anonymousLimiter
			class = "anonymous"
		}

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			if m.fallbackEnabled {
				// Fail open: a broken limiter backend must not take the
				// API down with it.
				observability.FromContext(ctx).WithError(err).Warn("rate limiter backend unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteError(w, http.StatusServiceUnavailable, httputil.CodeInternal, "rate limiter unavailable")
			return
		}

		if !allowed {
			if m.metrics != nil {
				m.metrics.RecordRateLimited(class)
			}
			m.rateLimitExceeded(ctx, w, limiter, key)
			return
		}

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			// Headers are best effort; still serve the request
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		ttl, err := limiter.TTL(ctx, key)
		if err == nil && ttl > 0 {
			resetTime := time.Now().Add(ttl).Unix()
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))
		}

		next.ServeHTTP(w, r)
	})
}

func (m *DistributedRateLimitMiddleware) rateLimitExceeded(ctx context.Context, w http.ResponseWriter, limiter *DistributedRateLimiter, key string) {
	ttl, err := limiter.TTL(ctx, key)
	retryAfter := limiter.config.WindowDuration.Seconds()
	if err == nil && ttl > 0 {
		retryAfter = ttl.Seconds()
	}

	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.config.RequestsPerWindow))
	w.Header().Set("X-RateLimit-Remaining", "0")

	if ttl > 0 {
		resetTime := time.Now().Add(ttl).Unix()
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))
	}

	httputil.WriteTooManyRequests(w, "rate limit exceeded")
}

// SetFallbackEnabled controls whether to fail open (true) or closed (false)
// on Redis errors
func (m *DistributedRateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}

// HealthCheck verifies Redis connectivity for rate limiting
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}
