package auth

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// InMemoryIdentities implements IdentityStore with in-process
// concurrency safety. It backs tests and DSN-less demo runs; production
// deployments use the Postgres store.
type InMemoryIdentities struct {
	mu      sync.RWMutex
	idents  map[string]*Identity
	byEmail map[string]string
}

var _ IdentityStore = (*InMemoryIdentities)(nil)

// NewInMemoryIdentities creates an empty identity store.
func NewInMemoryIdentities() *InMemoryIdentities {
	return &InMemoryIdentities{
		idents:  make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func cloneIdentity(id *Identity) *Identity {
	cp := *id
	cp.Modules = slices.Clone(id.Modules)
	cp.Resources = slices.Clone(id.Resources)
	return &cp
}

func (s *InMemoryIdentities) Create(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.idents[id.ID]; ok {
		return ErrConflict
	}
	if _, ok := s.byEmail[NormalizeEmail(id.Email)]; ok {
		return ErrConflict
	}
	s.idents[id.ID] = cloneIdentity(id)
	s.byEmail[NormalizeEmail(id.Email)] = id.ID
	return nil
}

func (s *InMemoryIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.idents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIdentity(identity), nil
}

func (s *InMemoryIdentities) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIdentity(s.idents[id]), nil
}

func (s *InMemoryIdentities) List(ctx context.Context) ([]*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Identity, 0, len(s.idents))
	for _, identity := range s.idents {
		out = append(out, cloneIdentity(identity))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryIdentities) Update(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.idents[id.ID]
	if !ok {
		return ErrNotFound
	}
	// Email is immutable through Update; the password travels through
	// UpdatePassword.
	next := cloneIdentity(id)
	next.Email = current.Email
	next.SecretHash = current.SecretHash
	s.idents[id.ID] = next
	return nil
}

func (s *InMemoryIdentities) UpdatePassword(ctx context.Context, id, secretHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.idents[id]
	if !ok {
		return ErrNotFound
	}
	identity.SecretHash = secretHash
	return nil
}

// InMemoryCredentials implements CredentialStore. MarkUsed performs its
// conditional flip under the store lock, matching the compare-and-set
// the Postgres store gets from a conditional UPDATE.
type InMemoryCredentials struct {
	mu        sync.RWMutex
	creds     map[string]*Credential
	bySubject map[string][]string
}

var _ CredentialStore = (*InMemoryCredentials)(nil)

// NewInMemoryCredentials creates an empty credential store.
func NewInMemoryCredentials() *InMemoryCredentials {
	return &InMemoryCredentials{
		creds:     make(map[string]*Credential),
		bySubject: make(map[string][]string),
	}
}

func (s *InMemoryCredentials) Create(ctx context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[c.ID]; ok {
		return ErrConflict
	}
	cp := *c
	s.creds[c.ID] = &cp
	s.bySubject[c.SubjectID] = append(s.bySubject[c.SubjectID], c.ID)
	return nil
}

func (s *InMemoryCredentials) Find(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryCredentials) MarkUsed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok || c.Used || c.Revoked {
		return false, nil
	}
	c.Used = true
	return true, nil
}

func (s *InMemoryCredentials) MarkRevoked(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	c.Revoked = true
	return nil
}

func (s *InMemoryCredentials) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.bySubject[subjectID] {
		s.creds[id].Revoked = true
	}
	return nil
}
