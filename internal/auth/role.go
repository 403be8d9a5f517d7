package auth

import (
	"fmt"
	"strings"
)

// Module identifies a business domain an identity may be permitted to
// touch at all, independent of its role.
type Module string

const (
	ModuleWFP  Module = "wfp"
	ModuleDube Module = "dube"
)

// Role is the closed privilege enumeration. Every identity carries
// exactly one role; comparisons happen only through the rank table
// below, never through ad-hoc string checks.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleWFPAdmin   Role = "wfp_admin"
	RoleDubeAdmin  Role = "dube_admin"
	RoleWFPViewer  Role = "wfp_viewer"
	RoleDubeViewer Role = "dube_viewer"
	RoleWFPOfficer Role = "wfp_officer"
	RoleDubeAgent  Role = "dube_agent"
	RoleUser       Role = "user"
)

// DefaultRole is assigned on self-registration.
const DefaultRole = RoleUser

// roleRanks is the single total-order table consumed by Authorize.
// super_admin > admin > module admins > module viewers > fieldworkers > user.
var roleRanks = map[Role]int{
	RoleSuperAdmin: 100,
	RoleAdmin:      80,
	RoleWFPAdmin:   60,
	RoleDubeAdmin:  60,
	RoleWFPViewer:  40,
	RoleDubeViewer: 40,
	RoleWFPOfficer: 20,
	RoleDubeAgent:  20,
	RoleUser:       10,
}

// roleModules maps module-scoped roles to their module. Global roles
// (super_admin, admin, user) are absent.
var roleModules = map[Role]Module{
	RoleWFPAdmin:   ModuleWFP,
	RoleWFPViewer:  ModuleWFP,
	RoleWFPOfficer: ModuleWFP,
	RoleDubeAdmin:  ModuleDube,
	RoleDubeViewer: ModuleDube,
	RoleDubeAgent:  ModuleDube,
}

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return r, nil
}

// ParseModule normalizes and validates a module tag.
func ParseModule(raw string) (Module, error) {
	m := Module(strings.TrimSpace(strings.ToLower(raw)))
	switch m {
	case ModuleWFP, ModuleDube:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown module %q", ErrInvalidInput, raw)
}

// Valid reports whether the role is part of the enumeration.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the role's position in the total order. Unknown roles
// rank below everything.
func (r Role) Rank() int {
	return roleRanks[r]
}

// ScopedModule returns the module a role is bound to, or false for
// global roles.
func (r Role) ScopedModule() (Module, bool) {
	m, ok := roleModules[r]
	return m, ok
}

// AdminOf reports whether the role is the admin role of module m.
func (r Role) AdminOf(m Module) bool {
	switch r {
	case RoleWFPAdmin:
		return m == ModuleWFP
	case RoleDubeAdmin:
		return m == ModuleDube
	}
	return false
}

// requiredRank computes the rank floor of an allowed-role list: the
// lowest rank among the listed roles. Every listed role satisfies its
// own requirement, and anything outranking a listed role satisfies it
// too (rank monotonicity).
func requiredRank(roles []Role) int {
	rank := 0
	for i, r := range roles {
		if rr := r.Rank(); i == 0 || rr < rank {
			rank = rr
		}
	}
	return rank
}
