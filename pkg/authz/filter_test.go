package authz

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitedesk/sitedesk/pkg/contextkeys"
)

func TestProjectFilterFor_AllScopeIsUnrestricted(t *testing.T) {
	role := roleWith(nil, ScopeTable{ResourceProject: ScopeAll})

	filter := ProjectFilterFor(role, nil)
	assert.Nil(t, filter)

	// nil filter matches everything.
	assert.True(t, filter.Match(1))
	assert.True(t, filter.Match(999999))
	assert.Equal(t, []int64{4, 5}, filter.Restrict([]int64{4, 5}))
}

func TestProjectFilterFor_ScopedRole(t *testing.T) {
	role := roleWith(nil, ScopeTable{ResourceProject: ScopeAssigned})

	filter := ProjectFilterFor(role, []int64{10, 20})
	require.NotNil(t, filter)
	assert.True(t, filter.Match(10))
	assert.True(t, filter.Match(20))
	assert.False(t, filter.Match(30))
	assert.Equal(t, []int64{20}, filter.Restrict([]int64{5, 20, 30}))
}

func TestProjectFilterFor_EmptyAccessMatchesNothing(t *testing.T) {
	role := roleWith(nil, ScopeTable{ResourceProject: ScopeAssigned})

	// An empty access set must produce an impossible filter, never an
	// unrestricted one.
	filter := ProjectFilterFor(role, []int64{})
	require.NotNil(t, filter)
	assert.False(t, filter.Match(1))
	assert.Empty(t, filter.Restrict([]int64{1, 2, 3}))

	// Same when the set was never resolved.
	filter = ProjectFilterFor(role, nil)
	require.NotNil(t, filter)
	assert.False(t, filter.Match(1))
}

func TestProjectFilterFor_NilRoleFailsClosed(t *testing.T) {
	filter := ProjectFilterFor(nil, []int64{1, 2})
	require.NotNil(t, filter)
	assert.False(t, filter.Match(1))
}

func TestProjectFilterFor_NoneScopeFailsClosed(t *testing.T) {
	role := roleWith(nil, ScopeTable{ResourceProject: ScopeNone})

	filter := ProjectFilterFor(role, []int64{1, 2})
	require.NotNil(t, filter)
	// Scope none loads no access set in practice; even with one supplied
	// the filter only admits what the set lists, never the whole org.
	assert.True(t, filter.Match(1))
	assert.False(t, filter.Match(3))
}

func TestProjectFilterFromContext(t *testing.T) {
	adminLike := roleWith(nil, ScopeTable{ResourceProject: ScopeAll})
	scoped := roleWith(nil, ScopeTable{ResourceProject: ScopeAssigned})

	t.Run("all scope role is unrestricted", func(t *testing.T) {
		ctx := contextkeys.WithRole(context.Background(), adminLike)
		assert.Nil(t, ProjectFilterFromContext(ctx))
	})

	t.Run("scoped role uses the access set", func(t *testing.T) {
		ctx := contextkeys.WithRole(context.Background(), scoped)
		ctx = contextkeys.WithProjectAccess(ctx, []int64{7})

		filter := ProjectFilterFromContext(ctx)
		require.NotNil(t, filter)
		assert.True(t, filter.Match(7))
		assert.False(t, filter.Match(8))
	})

	t.Run("scoped role without resolved access matches nothing", func(t *testing.T) {
		ctx := contextkeys.WithRole(context.Background(), scoped)

		filter := ProjectFilterFromContext(ctx)
		require.NotNil(t, filter)
		assert.False(t, filter.Match(7))
	})

	t.Run("no role matches nothing", func(t *testing.T) {
		filter := ProjectFilterFromContext(context.Background())
		require.NotNil(t, filter)
		assert.False(t, filter.Match(1))
	})
}

func TestProjectFilter_SQLCondition(t *testing.T) {
	t.Run("unrestricted renders no clause", func(t *testing.T) {
		var filter *ProjectFilter
		cond, args := filter.SQLCondition("project_id", 1)
		assert.Empty(t, cond)
		assert.Nil(t, args)
	})

	t.Run("empty set renders an impossible clause", func(t *testing.T) {
		filter := &ProjectFilter{ProjectIDs: []int64{}}
		cond, args := filter.SQLCondition("project_id", 1)
		assert.Equal(t, "FALSE", cond)
		assert.Nil(t, args)
	})

	t.Run("scoped set renders a membership clause", func(t *testing.T) {
		filter := &ProjectFilter{ProjectIDs: []int64{3, 9}}
		cond, args := filter.SQLCondition("e.project_id", 4)
		assert.Equal(t, "e.project_id = ANY($4)", cond)
		require.Len(t, args, 1)
		assert.Equal(t, pq.Array([]int64{3, 9}), args[0])
	})
}

func TestProjectFilter_DoesNotAliasCallerSlice(t *testing.T) {
	role := roleWith(nil, ScopeTable{ResourceProject: ScopeAssigned})
	access := []int64{1, 2}

	filter := ProjectFilterFor(role, access)
	access[0] = 99

	assert.True(t, filter.Match(1))
	assert.False(t, filter.Match(99))
}
