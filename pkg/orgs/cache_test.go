package orgs

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// seedAccess creates a member for user 7 in org 1 with grants on the given
// projects.
func seedAccess(t *testing.T, store *Store, db *sql.DB, projects ...int64) *Member {
	t.Helper()
	ctx := context.Background()
	seedUser(t, db, 7, "mason@example.com", "Mason Reed")
	seedRole(t, db, 3, 1, "Site Auditor")
	member, err := store.AddMember(ctx, NewMember{OrganizationID: 1, UserID: 7, RoleID: 3})
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	for _, projectID := range projects {
		if _, err := store.GrantProjectAccess(ctx, member.ID, projectID, nil); err != nil {
			t.Fatalf("GrantProjectAccess failed: %v", err)
		}
	}
	return member
}

func TestAccessCache_ServesFromL1(t *testing.T) {
	store, db := newTestStore(t)
	cache := NewAccessCache(store, nil, 16, time.Minute, time.Minute, nil)
	ctx := context.Background()
	member := seedAccess(t, store, db, 3)

	memberID, projects, err := cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if memberID != member.ID || len(projects) != 1 || projects[0] != 3 {
		t.Fatalf("Unexpected access: %d %v", memberID, projects)
	}
	if cache.Len() != 1 {
		t.Errorf("Expected one cached entry, got %d", cache.Len())
	}

	// A grant written behind the cache's back stays invisible until
	// invalidation or expiry.
	if _, err := store.GrantProjectAccess(ctx, member.ID, 5, nil); err != nil {
		t.Fatalf("GrantProjectAccess failed: %v", err)
	}
	_, projects, err = cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("Expected cached project set of 1, got %v", projects)
	}
}

func TestAccessCache_RedisTierSharedAcrossInstances(t *testing.T) {
	store, db := newTestStore(t)
	_, client := newTestRedis(t)
	ctx := context.Background()
	member := seedAccess(t, store, db, 3)

	first := NewAccessCache(store, client, 16, time.Minute, time.Minute, nil)
	if _, _, err := first.MemberAccess(ctx, 1, 7); err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}

	// Remove the row so only the Redis tier can answer
	if _, err := db.Exec(`DELETE FROM org_members WHERE id = $1`, member.ID); err != nil {
		t.Fatalf("Failed to delete member row: %v", err)
	}

	second := NewAccessCache(store, client, 16, time.Minute, time.Minute, nil)
	memberID, projects, err := second.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess via Redis failed: %v", err)
	}
	if memberID != member.ID || len(projects) != 1 || projects[0] != 3 {
		t.Errorf("Expected the Redis tier to answer, got %d %v", memberID, projects)
	}
}

func TestAccessCache_InvalidateDropsBothTiers(t *testing.T) {
	store, db := newTestStore(t)
	_, client := newTestRedis(t)
	cache := NewAccessCache(store, client, 16, time.Minute, time.Minute, nil)
	ctx := context.Background()
	member := seedAccess(t, store, db, 3)

	if _, _, err := cache.MemberAccess(ctx, 1, 7); err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if _, err := store.GrantProjectAccess(ctx, member.ID, 5, nil); err != nil {
		t.Fatalf("GrantProjectAccess failed: %v", err)
	}

	cache.Invalidate(ctx, 1, 7)

	_, projects, err := cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("Expected fresh project set of 2 after invalidation, got %v", projects)
	}
}

func TestAccessCache_AbsentMembershipNotCached(t *testing.T) {
	store, db := newTestStore(t)
	cache := NewAccessCache(store, nil, 16, time.Minute, time.Minute, nil)
	ctx := context.Background()
	seedUser(t, db, 7, "mason@example.com", "Mason Reed")
	seedRole(t, db, 3, 1, "Site Auditor")

	memberID, _, err := cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if memberID != 0 {
		t.Fatalf("Expected no membership, got member id %d", memberID)
	}

	// The new membership resolves immediately, without waiting out a TTL
	member, err := store.AddMember(ctx, NewMember{OrganizationID: 1, UserID: 7, RoleID: 3})
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	memberID, _, err = cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if memberID != member.ID {
		t.Errorf("Expected fresh membership %d, got %d", member.ID, memberID)
	}
}

func TestAccessCache_RedisDownFallsThrough(t *testing.T) {
	store, db := newTestStore(t)
	mr, client := newTestRedis(t)
	cache := NewAccessCache(store, client, 16, time.Minute, time.Minute, nil)
	ctx := context.Background()
	member := seedAccess(t, store, db, 3)

	mr.Close()

	// Lookups must survive a dead Redis: the store answers
	memberID, projects, err := cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess with Redis down failed: %v", err)
	}
	if memberID != member.ID || len(projects) != 1 {
		t.Errorf("Expected store answer with Redis down, got %d %v", memberID, projects)
	}

	// Invalidation still evicts the local tier
	if _, err := store.GrantProjectAccess(ctx, member.ID, 5, nil); err != nil {
		t.Fatalf("GrantProjectAccess failed: %v", err)
	}
	cache.Invalidate(ctx, 1, 7)
	_, projects, err = cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("Expected fresh project set after invalidation, got %v", projects)
	}
}

func TestAccessCache_L1Expiry(t *testing.T) {
	store, db := newTestStore(t)
	cache := NewAccessCache(store, nil, 16, 50*time.Millisecond, time.Minute, nil)
	ctx := context.Background()
	member := seedAccess(t, store, db, 3)

	if _, _, err := cache.MemberAccess(ctx, 1, 7); err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if _, err := store.GrantProjectAccess(ctx, member.ID, 5, nil); err != nil {
		t.Fatalf("GrantProjectAccess failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	_, projects, err := cache.MemberAccess(ctx, 1, 7)
	if err != nil {
		t.Fatalf("MemberAccess failed: %v", err)
	}
	if len(projects) != 2 {
		t.Errorf("Expected fresh project set after expiry, got %v", projects)
	}
}
