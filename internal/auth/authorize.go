package auth

import "fmt"

// Authorize is the core decision function. It returns nil for allow or
// a *Error describing the deny reason.
//
// The check order is fixed and load-bearing: module isolation runs
// before the rank comparison, otherwise a high-rank role scoped to
// module A could pass a pure rank check on an endpoint scoped to
// module B. Only super_admin bypasses the module check.
func Authorize(p *Principal, rq Requirement) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if p.Role == RoleSuperAdmin {
		return nil
	}

	if rq.Module != "" && !p.Role.AdminOf(rq.Module) && !p.HasModule(rq.Module) {
		return ErrModuleNotAccessible
	}

	if len(rq.Roles) > 0 {
		// A module's admin has full rights within its own module,
		// regardless of the finer role list.
		if rq.Module == "" || !p.Role.AdminOf(rq.Module) {
			if p.Role.Rank() < requiredRank(rq.Roles) {
				return ErrInsufficientPrivilege
			}
		}
	}

	if rq.Resource != nil {
		ok, err := rq.Resource(*p)
		if err != nil {
			return fmt.Errorf("resource predicate: %w", err)
		}
		if !ok {
			return ErrResourceNotAssigned
		}
	}
	return nil
}

// AssignmentGuard builds a resource predicate for a sub-resource of a
// module: the module's admin (and the global admin) bypasses assignment
// scoping, everyone else must carry the resource id in their assignment
// set. An empty resource id means the endpoint is not resource-scoped
// for this call and the guard is not applicable.
func AssignmentGuard(module Module, resourceID string) ResourcePredicate {
	return func(p Principal) (bool, error) {
		if resourceID == "" {
			return true, nil
		}
		if p.Role == RoleAdmin || p.Role.AdminOf(module) {
			return true, nil
		}
		return p.AssignedTo(resourceID), nil
	}
}
