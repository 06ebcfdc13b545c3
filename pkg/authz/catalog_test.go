package authz

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name  string
		perms []Permission
	}{
		{
			name:  "zero id",
			perms: []Permission{{ID: 0, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects}},
		},
		{
			name:  "negative id",
			perms: []Permission{{ID: -3, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects}},
		},
		{
			name: "duplicate id",
			perms: []Permission{
				{ID: 1, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects},
				{ID: 1, Resource: ResourceProject, Action: ActionCreate, Category: CategoryProjects},
			},
		},
		{
			name: "duplicate resource action pair",
			perms: []Permission{
				{ID: 1, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects},
				{ID: 2, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects},
			},
		},
		{
			name:  "unknown resource",
			perms: []Permission{{ID: 1, Resource: "spaceship", Action: ActionRead, Category: CategoryProjects}},
		},
		{
			name:  "unknown action",
			perms: []Permission{{ID: 1, Resource: ResourceProject, Action: "teleport", Category: CategoryProjects}},
		},
		{
			name:  "missing category",
			perms: []Permission{{ID: 1, Resource: ResourceProject, Action: ActionRead}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.perms)
			assert.Error(t, err)
		})
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	assert.Equal(t, 41, catalog.Len())

	// Every id from 1 to 41 present exactly once, ordered.
	all := catalog.FindAll()
	require.Len(t, all, 41)
	for i, p := range all {
		assert.Equal(t, int64(i+1), p.ID)
		assert.True(t, p.Resource.Valid(), "resource %q", p.Resource)
		assert.True(t, p.Action.Valid(), "action %q", p.Action)
		assert.NotEmpty(t, p.Category)
	}

	// Approval exists only where the domain needs it.
	_, ok := catalog.LookupByKey(ResourceExpense, ActionApprove)
	assert.True(t, ok)
	_, ok = catalog.LookupByKey(ResourceAdvance, ActionApprove)
	assert.True(t, ok)
	_, ok = catalog.LookupByKey(ResourceDocument, ActionApprove)
	assert.False(t, ok)

	// Reports are read and export only.
	_, ok = catalog.LookupByKey(ResourceReport, ActionExport)
	assert.True(t, ok)
	_, ok = catalog.LookupByKey(ResourceReport, ActionCreate)
	assert.False(t, ok)
}

func TestCatalog_Lookup(t *testing.T) {
	catalog := DefaultCatalog()

	p, ok := catalog.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, ResourceProject, p.Resource)
	assert.Equal(t, ActionRead, p.Action)
	assert.Equal(t, "project:read", p.Key())

	_, ok = catalog.Lookup(9999)
	assert.False(t, ok)
}

func TestCatalog_ResolveIDs_Reject(t *testing.T) {
	catalog := DefaultCatalog()

	perms, err := catalog.ResolveIDs([]int64{2, 1, 2, 14}, UnknownPermissionReject)
	require.NoError(t, err)

	// Deduplicated and ordered by id.
	require.Len(t, perms, 3)
	assert.Equal(t, int64(1), perms[0].ID)
	assert.Equal(t, int64(2), perms[1].ID)
	assert.Equal(t, int64(14), perms[2].ID)

	_, err = catalog.ResolveIDs([]int64{1, 9999}, UnknownPermissionReject)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPermission))
	assert.Contains(t, err.Error(), "9999")
}

func TestCatalog_ResolveIDs_Drop(t *testing.T) {
	catalog := DefaultCatalog()

	perms, err := catalog.ResolveIDs([]int64{9999, 2, 777}, UnknownPermissionDrop)
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, int64(2), perms[0].ID)

	perms, err = catalog.ResolveIDs(nil, UnknownPermissionDrop)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestCatalog_Replace_KeepsOldSnapshotOnError(t *testing.T) {
	catalog := DefaultCatalog()

	err := catalog.Replace([]Permission{
		{ID: 1, Resource: "bogus", Action: ActionRead, Category: CategoryProjects},
	})
	require.Error(t, err)

	// The previous snapshot is still live.
	assert.Equal(t, 41, catalog.Len())
	_, ok := catalog.LookupByKey(ResourceProject, ActionRead)
	assert.True(t, ok)
}

func TestCatalog_FindAllGroupedByCategory(t *testing.T) {
	grouped := DefaultCatalog().FindAllGroupedByCategory()

	require.Contains(t, grouped, CategoryFinance)
	require.Contains(t, grouped, CategoryAdministration)

	// Finance covers expenses, payments and advances with approvals.
	assert.Len(t, grouped[CategoryFinance], 15)
	for _, p := range grouped[CategoryFinance] {
		assert.Equal(t, CategoryFinance, p.Category)
	}
}

func writeCatalogFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalogFile(t *testing.T) {
	path := writeCatalogFile(t, `
permissions:
  - id: 1
    resource: project
    action: read
    category: Projects
  - id: 2
    resource: expense
    action: approve
    category: Finance
`)

	catalog, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.Len())

	p, ok := catalog.LookupByKey(ResourceExpense, ActionApprove)
	require.True(t, ok)
	assert.Equal(t, int64(2), p.ID)
}

func TestLoadCatalogFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"no permissions", "permissions: []"},
		{"not yaml", "{{{{"},
		{"unknown resource", `
permissions:
  - id: 1
    resource: warp_drive
    action: read
    category: Projects
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalogFile(writeCatalogFile(t, tt.content))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadCatalogFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestCatalog_ReloadFromFile_BadEditKeepsCatalog(t *testing.T) {
	path := writeCatalogFile(t, `
permissions:
  - id: 1
    resource: project
    action: read
    category: Projects
`)

	catalog, err := LoadCatalogFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, catalog.Len())

	// A broken edit must not degrade the running catalog.
	require.NoError(t, os.WriteFile(path, []byte("permissions: []"), 0o644))
	require.Error(t, catalog.ReloadFromFile(path))
	assert.Equal(t, 1, catalog.Len())

	// A good edit is picked up.
	require.NoError(t, os.WriteFile(path, []byte(`
permissions:
  - id: 1
    resource: project
    action: read
    category: Projects
  - id: 2
    resource: project
    action: update
    category: Projects
`), 0o644))
	require.NoError(t, catalog.ReloadFromFile(path))
	assert.Equal(t, 2, catalog.Len())
}

func TestIDsOf(t *testing.T) {
	perms := []Permission{
		{ID: 14, Resource: ResourceExpense, Action: ActionRead, Category: CategoryFinance},
		{ID: 2, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects},
	}
	assert.Equal(t, []int64{2, 14}, IDsOf(perms))
}
