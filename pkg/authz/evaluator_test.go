package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grantOf fetches a catalog permission or fails the test
func grantOf(t *testing.T, catalog *Catalog, resource Resource, action Action) Permission {
	t.Helper()
	p, ok := catalog.LookupByKey(resource, action)
	require.True(t, ok, "catalog is missing %s:%s", resource, action)
	return p
}

// roleWith builds an in-memory role for evaluator tests
func roleWith(perms []Permission, scopes ScopeTable) *Role {
	return &Role{
		Name:          "Test Role",
		PermissionIDs: IDsOf(perms),
		Permissions:   perms,
		Scopes:        scopes,
	}
}

func TestHasPermission(t *testing.T) {
	catalog := DefaultCatalog()
	role := roleWith([]Permission{
		grantOf(t, catalog, ResourceExpense, ActionRead),
		grantOf(t, catalog, ResourceExpense, ActionCreate),
	}, nil)

	assert.True(t, HasPermission(role, ResourceExpense, ActionRead))
	assert.True(t, HasPermission(role, ResourceExpense, ActionCreate))

	// Exact matching only: no leakage across actions or resources.
	assert.False(t, HasPermission(role, ResourceExpense, ActionDelete))
	assert.False(t, HasPermission(role, ResourcePayment, ActionRead))
}

func TestHasPermission_NilAndEmptyRole(t *testing.T) {
	assert.False(t, HasPermission(nil, ResourceProject, ActionRead))
	assert.False(t, HasPermission(&Role{}, ResourceProject, ActionRead))
}

func TestScopeFor(t *testing.T) {
	role := roleWith(nil, ScopeTable{
		ResourceProject: ScopeAll,
		ResourceExpense: ScopeAssigned,
		ResourceAdvance: ScopeOwn,
		ResourcePayment: ScopeNone,
		ResourceStage:   "galactic", // not a known scope
	})

	tests := []struct {
		resource Resource
		want     Scope
	}{
		{ResourceProject, ScopeAll},
		{ResourceExpense, ScopeAssigned},
		{ResourceAdvance, ScopeOwn},
		{ResourcePayment, ScopeNone},
		{ResourceStage, ScopeNone},    // invalid entries deny
		{ResourceDocument, ScopeNone}, // absent entries deny
	}

	for _, tt := range tests {
		t.Run(string(tt.resource), func(t *testing.T) {
			assert.Equal(t, tt.want, ScopeFor(role, tt.resource))
		})
	}

	assert.Equal(t, ScopeNone, ScopeFor(nil, ResourceProject))
}

func TestAllowed_ScopeNoneOverridesGrantedPermission(t *testing.T) {
	catalog := DefaultCatalog()

	// The role holds expense permissions but its expense scope is none:
	// every expense operation must be denied.
	role := roleWith([]Permission{
		grantOf(t, catalog, ResourceExpense, ActionRead),
		grantOf(t, catalog, ResourceExpense, ActionCreate),
		grantOf(t, catalog, ResourceProject, ActionRead),
	}, ScopeTable{
		ResourceExpense: ScopeNone,
		ResourceProject: ScopeAssigned,
	})

	assert.False(t, Allowed(role, ResourceExpense, ActionRead))
	assert.False(t, Allowed(role, ResourceExpense, ActionCreate))
	assert.True(t, Allowed(role, ResourceProject, ActionRead))
}

func TestAllowed_ScopeWithoutPermissionDenies(t *testing.T) {
	// A wide scope grants nothing by itself.
	role := roleWith(nil, ScopeTable{ResourcePayment: ScopeAll})

	assert.False(t, Allowed(role, ResourcePayment, ActionRead))
}

func TestAllowed_MissingScopeEntryDenies(t *testing.T) {
	catalog := DefaultCatalog()
	role := roleWith([]Permission{
		grantOf(t, catalog, ResourceDocument, ActionRead),
	}, ScopeTable{})

	assert.False(t, Allowed(role, ResourceDocument, ActionRead))
}

func TestAllowed_Deterministic(t *testing.T) {
	catalog := DefaultCatalog()
	role := roleWith([]Permission{
		grantOf(t, catalog, ResourceStage, ActionUpdate),
	}, ScopeTable{ResourceStage: ScopeAssigned})

	// Same inputs, same answer, every time.
	for i := 0; i < 100; i++ {
		assert.True(t, Allowed(role, ResourceStage, ActionUpdate))
		assert.False(t, Allowed(role, ResourceStage, ActionDelete))
	}
}
