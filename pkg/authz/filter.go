package authz

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/sitedesk/sitedesk/pkg/contextkeys"
)

// ProjectFilter restricts a query to a set of project ids. A nil
// *ProjectFilter means no restriction; a non-nil filter with an empty set
// matches nothing. Downstream list queries must apply it verbatim, which is
// what keeps an empty access set fail-closed instead of exposing the whole
// organization.
type ProjectFilter struct {
	ProjectIDs []int64
}

// ProjectFilterFromContext converts the resolved request context into a
// query restriction:
//
//   - nil for roles whose project scope is organization-wide
//   - the member's accessible project id set for scoped roles
//   - an impossible (empty) filter when the set is empty or was never
//     resolved
func ProjectFilterFromContext(ctx context.Context) *ProjectFilter {
	return ProjectFilterFor(RoleFromContext(ctx), accessFromContext(ctx))
}

func accessFromContext(ctx context.Context) []int64 {
	access, ok := contextkeys.GetProjectAccess(ctx)
	if !ok {
		return nil
	}
	if access == nil {
		// Normalize so an empty resolved set stays distinguishable from
		// "not resolved" for callers of contextkeys directly.
		return []int64{}
	}
	return access
}

// ProjectFilterFor is the context-free form used by tests and by callers
// that resolved the role and access set themselves.
func ProjectFilterFor(role *Role, accessibleProjectIDs []int64) *ProjectFilter {
	if role == nil {
		return &ProjectFilter{ProjectIDs: []int64{}}
	}
	if ScopeFor(role, ResourceProject) == ScopeAll {
		return nil
	}
	if accessibleProjectIDs == nil {
		return &ProjectFilter{ProjectIDs: []int64{}}
	}
	ids := make([]int64, len(accessibleProjectIDs))
	copy(ids, accessibleProjectIDs)
	return &ProjectFilter{ProjectIDs: ids}
}

// Match reports whether a project id passes the filter
func (f *ProjectFilter) Match(projectID int64) bool {
	if f == nil {
		return true
	}
	for _, id := range f.ProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}

// Restrict returns the subset of ids that pass the filter, preserving order
func (f *ProjectFilter) Restrict(ids []int64) []int64 {
	if f == nil {
		return ids
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if f.Match(id) {
			out = append(out, id)
		}
	}
	return out
}

// SQLCondition renders the filter as a WHERE fragment for the given column.
// argPos is the placeholder number the condition may use. An unrestricted
// filter returns an empty clause; an empty filter returns a clause that
// matches no rows.
func (f *ProjectFilter) SQLCondition(column string, argPos int) (string, []interface{}) {
	if f == nil {
		return "", nil
	}
	if len(f.ProjectIDs) == 0 {
		return "FALSE", nil
	}
	return fmt.Sprintf("%s = ANY($%d)", column, argPos), []interface{}{pq.Array(f.ProjectIDs)}
}
