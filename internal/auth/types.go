package auth

import (
	"slices"
	"strings"
	"time"
)

// Identity is a user or service account. Identities are never hard
// deleted; suspension flips Active to preserve referential integrity
// with historical records.
type Identity struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	SecretHash string    `json:"-"`
	Role       Role      `json:"role"`
	Modules    []Module  `json:"modules,omitempty"`
	Resources  []string  `json:"resources,omitempty"`
	Active     bool      `json:"active"`
	Verified   bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasModule reports whether the identity holds the module assignment.
func (id *Identity) HasModule(m Module) bool {
	return slices.Contains(id.Modules, m)
}

// Credential is a persisted refresh/reset/verify token record. Access
// tokens are never persisted; they are pure signed claims.
type Credential struct {
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	Kind      TokenKind `json:"kind"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	Revoked   bool      `json:"revoked"`
}

// Principal is the normalized identity attached to a request context
// after the gate accepts it. It always carries role, module set and
// resource set so downstream checks never probe capabilities.
type Principal struct {
	ID        string   `json:"id"`
	Role      Role     `json:"role"`
	Modules   []Module `json:"modules,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// PrincipalFor flattens an identity into its request principal.
func PrincipalFor(id *Identity) Principal {
	return Principal{
		ID:        id.ID,
		Role:      id.Role,
		Modules:   slices.Clone(id.Modules),
		Resources: slices.Clone(id.Resources),
	}
}

// HasModule reports whether the principal holds the module assignment.
func (p Principal) HasModule(m Module) bool {
	return slices.Contains(p.Modules, m)
}

// AssignedTo reports whether the resource id is in the principal's
// assignment set.
func (p Principal) AssignedTo(resourceID string) bool {
	return slices.Contains(p.Resources, resourceID)
}

// ResourcePredicate is an assignment-scoped check layered on the
// engine. It runs only after role and module checks pass.
type ResourcePredicate func(p Principal) (bool, error)

// Requirement is the static authorization descriptor a protected
// operation declares. It is never persisted.
type Requirement struct {
	Roles    []Role
	Module   Module
	Resource ResourcePredicate
}

// NormalizeEmail lower-cases and trims an email for case-insensitive
// uniqueness.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
