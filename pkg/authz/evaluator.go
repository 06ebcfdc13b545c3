package authz

// The evaluator is the pure core of the subsystem. Every function here is
// deterministic over its arguments, performs no I/O, and is safe to call
// from any number of in-flight requests: decisions depend only on the role
// snapshot the caller holds.

// HasPermission reports whether the role's permission set contains an entry
// matching both resource and action exactly. There is no wildcard matching
// and no implicit grants for privileged role names.
func HasPermission(role *Role, resource Resource, action Action) bool {
	if role == nil {
		return false
	}
	for _, p := range role.Permissions {
		if p.Resource == resource && p.Action == action {
			return true
		}
	}
	return false
}

// ScopeFor returns the scope the role holds on a resource. Resources absent
// from the role's scope table resolve to ScopeNone, which denies every
// operation on that resource regardless of the permission set.
func ScopeFor(role *Role, resource Resource) Scope {
	if role == nil {
		return ScopeNone
	}
	if scope, ok := role.Scopes[resource]; ok && scope.Valid() {
		return scope
	}
	return ScopeNone
}

// Allowed is the composed check the guards use: the permission must be
// granted and the resource's scope must not be none.
func Allowed(role *Role, resource Resource, action Action) bool {
	if !HasPermission(role, resource, action) {
		return false
	}
	return ScopeFor(role, resource) != ScopeNone
}
