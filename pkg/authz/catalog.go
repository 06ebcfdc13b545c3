package authz

import (
	"fmt"
	"sort"
	"sync"
)

// Permission categories used by the default catalog for UI grouping
const (
	CategoryProjects        = "Projects"
	CategoryFieldOperations = "Field Operations"
	CategoryFinance         = "Finance"
	CategoryDocuments       = "Documents"
	CategoryReporting       = "Reporting"
	CategoryAdministration  = "Administration"
)

// UnknownPermissionMode decides what ResolveIDs does with ids absent from
// the catalog: reject the whole request or silently drop the unknown ids.
type UnknownPermissionMode string

const (
	UnknownPermissionReject UnknownPermissionMode = "reject"
	UnknownPermissionDrop   UnknownPermissionMode = "drop"
)

// Valid reports whether m is a known mode
func (m UnknownPermissionMode) Valid() bool {
	return m == UnknownPermissionReject || m == UnknownPermissionDrop
}

// Catalog is the registry of every controllable (resource, action) pair,
// each with a stable id. It is injected into the role registry and the
// handlers rather than accessed through package globals, so deployments can
// load a customized catalog from a file and tests can construct small ones.
//
// Reads are lock-cheap and safe from any number of goroutines; Replace swaps
// the whole snapshot atomically so readers never observe a partial catalog.
type Catalog struct {
	mu    sync.RWMutex
	perms []Permission
	byID  map[int64]Permission
	byKey map[string]Permission
}

// NewCatalog builds a catalog from the given permissions, validating that
// ids are positive and unique, (resource, action) pairs are unique, enum
// values are known, and categories are set.
func NewCatalog(perms []Permission) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(perms); err != nil {
		return nil, err
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on invalid input. Use only for
// statically-defined permission sets.
func MustCatalog(perms []Permission) *Catalog {
	c, err := NewCatalog(perms)
	if err != nil {
		panic(fmt.Sprintf("authz: invalid permission catalog: %v", err))
	}
	return c
}

// Replace validates perms and swaps the catalog contents in one step.
// On error the previous snapshot stays in place.
func (c *Catalog) Replace(perms []Permission) error {
	ordered := make([]Permission, len(perms))
	copy(ordered, perms)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	byID := make(map[int64]Permission, len(ordered))
	byKey := make(map[string]Permission, len(ordered))
	for _, p := range ordered {
		if p.ID <= 0 {
			return fmt.Errorf("permission %s: id must be positive, got %d", p.Key(), p.ID)
		}
		if !p.Resource.Valid() {
			return fmt.Errorf("permission id %d: unknown resource %q", p.ID, p.Resource)
		}
		if !p.Action.Valid() {
			return fmt.Errorf("permission id %d: unknown action %q", p.ID, p.Action)
		}
		if p.Category == "" {
			return fmt.Errorf("permission %s: category is required", p.Key())
		}
		if prev, ok := byID[p.ID]; ok {
			return fmt.Errorf("duplicate permission id %d (%s and %s)", p.ID, prev.Key(), p.Key())
		}
		if prev, ok := byKey[p.Key()]; ok {
			return fmt.Errorf("duplicate permission %s (ids %d and %d)", p.Key(), prev.ID, p.ID)
		}
		byID[p.ID] = p
		byKey[p.Key()] = p
	}

	c.mu.Lock()
	c.perms = ordered
	c.byID = byID
	c.byKey = byKey
	c.mu.Unlock()
	return nil
}

// FindAll returns every permission ordered by id
func (c *Catalog) FindAll() []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Permission, len(c.perms))
	copy(out, c.perms)
	return out
}

// FindAllGroupedByCategory returns the permissions grouped by category,
// each group ordered by id
func (c *Catalog) FindAllGroupedByCategory() map[string][]Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	grouped := make(map[string][]Permission)
	for _, p := range c.perms {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	return grouped
}

// Lookup returns the permission with the given id
func (c *Catalog) Lookup(id int64) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// LookupByKey returns the permission for a (resource, action) pair
func (c *Catalog) LookupByKey(resource Resource, action Action) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byKey[string(resource)+":"+string(action)]
	return p, ok
}

// Len returns the number of permissions in the catalog
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.perms)
}

// ResolveIDs maps permission ids to catalog entries. Duplicated ids collapse
// to one entry. Unknown ids are handled per mode: reject returns
// ErrUnknownPermission naming the first offender; drop filters them out.
// The result is ordered by id.
func (c *Catalog) ResolveIDs(ids []int64, mode UnknownPermissionMode) ([]Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[int64]bool, len(ids))
	resolved := make([]Permission, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, ok := c.byID[id]
		if !ok {
			if mode == UnknownPermissionDrop {
				continue
			}
			return nil, fmt.Errorf("%w: %d", ErrUnknownPermission, id)
		}
		resolved = append(resolved, p)
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i].ID < resolved[j].ID })
	return resolved, nil
}

// IDsOf maps catalog entries back to their ids, ordered
func IDsOf(perms []Permission) []int64 {
	ids := make([]int64, len(perms))
	for i, p := range perms {
		ids[i] = p.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DefaultCatalog returns the built-in permission catalog. Ids are stable
// across releases; new permissions append, existing ids never change meaning.
func DefaultCatalog() *Catalog {
	return MustCatalog(defaultPermissions())
}

func defaultPermissions() []Permission {
	return []Permission{
		{ID: 1, Resource: ResourceProject, Action: ActionCreate, Category: CategoryProjects},
		{ID: 2, Resource: ResourceProject, Action: ActionRead, Category: CategoryProjects},
		{ID: 3, Resource: ResourceProject, Action: ActionUpdate, Category: CategoryProjects},
		{ID: 4, Resource: ResourceProject, Action: ActionDelete, Category: CategoryProjects},

		{ID: 5, Resource: ResourceStage, Action: ActionCreate, Category: CategoryFieldOperations},
		{ID: 6, Resource: ResourceStage, Action: ActionRead, Category: CategoryFieldOperations},
		{ID: 7, Resource: ResourceStage, Action: ActionUpdate, Category: CategoryFieldOperations},
		{ID: 8, Resource: ResourceStage, Action: ActionDelete, Category: CategoryFieldOperations},
		{ID: 9, Resource: ResourceMaterial, Action: ActionCreate, Category: CategoryFieldOperations},
		{ID: 10, Resource: ResourceMaterial, Action: ActionRead, Category: CategoryFieldOperations},
		{ID: 11, Resource: ResourceMaterial, Action: ActionUpdate, Category: CategoryFieldOperations},
		{ID: 12, Resource: ResourceMaterial, Action: ActionDelete, Category: CategoryFieldOperations},

		{ID: 13, Resource: ResourceExpense, Action: ActionCreate, Category: CategoryFinance},
		{ID: 14, Resource: ResourceExpense, Action: ActionRead, Category: CategoryFinance},
		{ID: 15, Resource: ResourceExpense, Action: ActionUpdate, Category: CategoryFinance},
		{ID: 16, Resource: ResourceExpense, Action: ActionDelete, Category: CategoryFinance},
		{ID: 17, Resource: ResourceExpense, Action: ActionApprove, Category: CategoryFinance},
		{ID: 18, Resource: ResourcePayment, Action: ActionCreate, Category: CategoryFinance},
		{ID: 19, Resource: ResourcePayment, Action: ActionRead, Category: CategoryFinance},
		{ID: 20, Resource: ResourcePayment, Action: ActionUpdate, Category: CategoryFinance},
		{ID: 21, Resource: ResourcePayment, Action: ActionDelete, Category: CategoryFinance},
		{ID: 22, Resource: ResourcePayment, Action: ActionApprove, Category: CategoryFinance},
		{ID: 23, Resource: ResourceAdvance, Action: ActionCreate, Category: CategoryFinance},
		{ID: 24, Resource: ResourceAdvance, Action: ActionRead, Category: CategoryFinance},
		{ID: 25, Resource: ResourceAdvance, Action: ActionUpdate, Category: CategoryFinance},
		{ID: 26, Resource: ResourceAdvance, Action: ActionDelete, Category: CategoryFinance},
		{ID: 27, Resource: ResourceAdvance, Action: ActionApprove, Category: CategoryFinance},

		{ID: 28, Resource: ResourceDocument, Action: ActionCreate, Category: CategoryDocuments},
		{ID: 29, Resource: ResourceDocument, Action: ActionRead, Category: CategoryDocuments},
		{ID: 30, Resource: ResourceDocument, Action: ActionUpdate, Category: CategoryDocuments},
		{ID: 31, Resource: ResourceDocument, Action: ActionDelete, Category: CategoryDocuments},

		{ID: 32, Resource: ResourceReport, Action: ActionRead, Category: CategoryReporting},
		{ID: 33, Resource: ResourceReport, Action: ActionExport, Category: CategoryReporting},

		{ID: 34, Resource: ResourceMember, Action: ActionCreate, Category: CategoryAdministration},
		{ID: 35, Resource: ResourceMember, Action: ActionRead, Category: CategoryAdministration},
		{ID: 36, Resource: ResourceMember, Action: ActionUpdate, Category: CategoryAdministration},
		{ID: 37, Resource: ResourceMember, Action: ActionDelete, Category: CategoryAdministration},
		{ID: 38, Resource: ResourceRole, Action: ActionCreate, Category: CategoryAdministration},
		{ID: 39, Resource: ResourceRole, Action: ActionRead, Category: CategoryAdministration},
		{ID: 40, Resource: ResourceRole, Action: ActionUpdate, Category: CategoryAdministration},
		{ID: 41, Resource: ResourceRole, Action: ActionDelete, Category: CategoryAdministration},
	}
}
