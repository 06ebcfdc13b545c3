package authz

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sitedesk/sitedesk/pkg/observability"
)

const (
	defaultRoleCacheSize = 1024
	defaultRoleCacheTTL  = 30 * time.Second
)

// RoleCache fronts the role store with an expiring LRU so identity
// resolution does not hit the registry on every request. Negative results
// are not cached; an unknown role name stays a registry round trip, which
// keeps newly created roles visible immediately.
type RoleCache struct {
	store   *Store
	cache   *lru.LRU[string, *Role]
	metrics *observability.Metrics
}

// NewRoleCache creates a role cache over store. Non-positive size or ttl
// fall back to the defaults. A nil metrics disables hit/miss counting.
func NewRoleCache(store *Store, size int, ttl time.Duration, metrics *observability.Metrics) *RoleCache {
	if size <= 0 {
		size = defaultRoleCacheSize
	}
	if ttl <= 0 {
		ttl = defaultRoleCacheTTL
	}

	return &RoleCache{
		store:   store,
		cache:   lru.NewLRU[string, *Role](size, nil, ttl),
		metrics: metrics,
	}
}

func roleCacheKey(organizationID int64, name string) string {
	return fmt.Sprintf("%d:%s", organizationID, name)
}

// GetRoleByName resolves a role name through the cache, falling through to
// the store on a miss.
func (c *RoleCache) GetRoleByName(ctx context.Context, organizationID int64, name string) (*Role, error) {
	key := roleCacheKey(organizationID, name)
	if role, ok := c.cache.Get(key); ok {
		if c.metrics != nil {
			c.metrics.RecordCacheHit("role", "l1")
		}
		return role, nil
	}
	if c.metrics != nil {
		c.metrics.RecordCacheMiss("role", "l1")
	}

	role, err := c.store.GetRoleByName(ctx, organizationID, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, role)
	return role, nil
}

// Invalidate drops cache entries for a role after a write. Custom roles map
// to a single organization key. System role edits purge the whole cache:
// their entries are keyed under every requesting organization and the LRU
// cannot pattern-match keys.
func (c *RoleCache) Invalidate(role *Role) {
	if role == nil {
		return
	}
	if role.OrganizationID != nil {
		c.cache.Remove(roleCacheKey(*role.OrganizationID, role.Name))
		return
	}
	c.cache.Purge()
}

// Purge clears the cache. Catalog swaps call it so roles re-resolve their
// permissions against the new catalog.
func (c *RoleCache) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached roles
func (c *RoleCache) Len() int {
	return c.cache.Len()
}
