package auth

import "context"

// IdentityStore persists identities. Implementations return ErrNotFound
// for missing records and ErrConflict on unique-key violations.
type IdentityStore interface {
	Create(ctx context.Context, id *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	List(ctx context.Context) ([]*Identity, error)
	// Update persists role, module assignments, resource assignments and
	// the active flag.
	Update(ctx context.Context, id *Identity) error
	UpdatePassword(ctx context.Context, id, secretHash string) error
}

// CredentialStore persists issued refresh/reset/verify credentials.
type CredentialStore interface {
	Create(ctx context.Context, c *Credential) error
	Find(ctx context.Context, id string) (*Credential, error)
	// MarkUsed is the single-use commit point: it flips the used flag
	// only if the record is currently unused and unrevoked, and reports
	// whether this call won the flip. Two concurrent exchanges of the
	// same credential must observe exactly one true.
	MarkUsed(ctx context.Context, id string) (bool, error)
	MarkRevoked(ctx context.Context, id string) error
	RevokeAllForSubject(ctx context.Context, subjectID string) error
}
