package authz

import "sort"

// systemRoleSpec declares a system role by permission keys so definitions
// survive catalog id renumbering in customized deployments.
type systemRoleSpec struct {
	name        string
	description string
	grants      []grant
	scopes      ScopeTable
}

type grant struct {
	resource Resource
	actions  []Action
}

func crud(resource Resource) grant {
	return grant{resource: resource, actions: []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}}
}

func only(resource Resource, actions ...Action) grant {
	return grant{resource: resource, actions: actions}
}

// SystemRoles resolves the five system role definitions against the given
// catalog. Grants naming (resource, action) pairs absent from the catalog
// are skipped, so a deployment that trims its catalog trims the roles with
// it. The returned roles carry no ids; SeedSystemRoles assigns those.
func SystemRoles(catalog *Catalog) []Role {
	specs := []systemRoleSpec{
		{
			name:        RoleAdmin,
			description: "Full access to every project and all administration",
			grants: []grant{
				crud(ResourceProject),
				crud(ResourceStage),
				only(ResourceExpense, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove),
				only(ResourcePayment, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove),
				only(ResourceAdvance, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove),
				crud(ResourceMaterial),
				crud(ResourceDocument),
				only(ResourceReport, ActionRead, ActionExport),
				crud(ResourceMember),
				crud(ResourceRole),
			},
			scopes: ScopeTable{
				ResourceProject:  ScopeAll,
				ResourceStage:    ScopeAll,
				ResourceExpense:  ScopeAll,
				ResourcePayment:  ScopeAll,
				ResourceAdvance:  ScopeAll,
				ResourceMaterial: ScopeAll,
				ResourceDocument: ScopeAll,
				ResourceReport:   ScopeAll,
				ResourceMember:   ScopeAll,
				ResourceRole:     ScopeAll,
			},
		},
		{
			name:        RoleManager,
			description: "Organization-wide project operations and member administration",
			grants: []grant{
				crud(ResourceProject),
				crud(ResourceStage),
				only(ResourceExpense, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove),
				only(ResourcePayment, ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove),
				only(ResourceAdvance, ActionCreate, ActionRead, ActionUpdate, ActionApprove),
				crud(ResourceMaterial),
				crud(ResourceDocument),
				only(ResourceReport, ActionRead, ActionExport),
				only(ResourceMember, ActionCreate, ActionRead, ActionUpdate),
				only(ResourceRole, ActionRead),
			},
			scopes: ScopeTable{
				ResourceProject:  ScopeAll,
				ResourceStage:    ScopeAll,
				ResourceExpense:  ScopeAll,
				ResourcePayment:  ScopeAll,
				ResourceAdvance:  ScopeAll,
				ResourceMaterial: ScopeAll,
				ResourceDocument: ScopeAll,
				ResourceReport:   ScopeAll,
				ResourceMember:   ScopeAll,
				ResourceRole:     ScopeAll,
			},
		},
		{
			name:        RoleAccountant,
			description: "Organization-wide finance operations and reporting",
			grants: []grant{
				only(ResourceProject, ActionRead),
				only(ResourceExpense, ActionCreate, ActionRead, ActionUpdate, ActionApprove),
				only(ResourcePayment, ActionCreate, ActionRead, ActionUpdate, ActionApprove),
				only(ResourceAdvance, ActionRead, ActionApprove),
				only(ResourceDocument, ActionRead),
				only(ResourceReport, ActionRead, ActionExport),
			},
			scopes: ScopeTable{
				ResourceProject:  ScopeAll,
				ResourceExpense:  ScopeAll,
				ResourcePayment:  ScopeAll,
				ResourceAdvance:  ScopeAll,
				ResourceDocument: ScopeAll,
				ResourceReport:   ScopeAll,
			},
		},
		{
			name:        RoleSupervisor,
			description: "Field operations on assigned projects",
			grants: []grant{
				only(ResourceProject, ActionRead),
				only(ResourceStage, ActionCreate, ActionRead, ActionUpdate),
				only(ResourceExpense, ActionCreate, ActionRead),
				only(ResourceAdvance, ActionCreate, ActionRead),
				only(ResourceMaterial, ActionCreate, ActionRead, ActionUpdate),
				only(ResourceDocument, ActionCreate, ActionRead),
				only(ResourceReport, ActionRead),
			},
			scopes: ScopeTable{
				ResourceProject:  ScopeAssigned,
				ResourceStage:    ScopeAssigned,
				ResourceExpense:  ScopeAssigned,
				ResourceAdvance:  ScopeOwn,
				ResourceMaterial: ScopeAssigned,
				ResourceDocument: ScopeAssigned,
				ResourceReport:   ScopeAssigned,
			},
		},
		{
			name:        RoleClient,
			description: "Read-only visibility into assigned projects",
			grants: []grant{
				only(ResourceProject, ActionRead),
				only(ResourcePayment, ActionRead),
				only(ResourceDocument, ActionRead),
				only(ResourceReport, ActionRead),
			},
			scopes: ScopeTable{
				ResourceProject:  ScopeAssigned,
				ResourcePayment:  ScopeAssigned,
				ResourceDocument: ScopeAssigned,
				ResourceReport:   ScopeAssigned,
			},
		},
	}

	roles := make([]Role, 0, len(specs))
	for _, spec := range specs {
		var perms []Permission
		for _, g := range spec.grants {
			for _, action := range g.actions {
				if p, ok := catalog.LookupByKey(g.resource, action); ok {
					perms = append(perms, p)
				}
			}
		}
		sort.Slice(perms, func(i, j int) bool { return perms[i].ID < perms[j].ID })
		roles = append(roles, Role{
			Name:          spec.name,
			Description:   spec.description,
			IsSystem:      true,
			PermissionIDs: IDsOf(perms),
			Permissions:   perms,
			Scopes:        spec.scopes.Clone(),
		})
	}
	return roles
}
