package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aidcore.org/internal/ids"
)

// TokenConfig carries the signing material and lifetimes for every
// token kind. It is built once from the process configuration and
// injected; business logic never reads the environment.
type TokenConfig struct {
	Issuer string

	AccessSecret  []byte
	RefreshSecret []byte
	ResetSecret   []byte
	VerifySecret  []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	VerifyTTL  time.Duration
}

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultResetTTL   = time.Hour
	defaultVerifyTTL  = 24 * time.Hour
)

// Service implements the token service and the identity operations the
// gate and handlers build on.
type Service struct {
	idents IdentityStore
	creds  CredentialStore
	cfg    TokenConfig
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source. Useful for tests.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService validates the token configuration and constructs the
// service. Access and refresh secrets must be present and distinct.
func NewService(idents IdentityStore, creds CredentialStore, cfg TokenConfig, opts ...ServiceOption) (*Service, error) {
	if idents == nil || creds == nil {
		return nil, errors.New("auth: identity and credential stores are required")
	}
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("auth: access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("auth: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = defaultVerifyTTL
	}
	svc := &Service{
		idents: idents,
		creds:  creds,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates an identity with the default role, no module
// assignments and an active flag.
func (s *Service) Register(ctx context.Context, email, password string) (*Identity, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	identity := &Identity{
		ID:         ids.New(),
		Email:      email,
		SecretHash: hash,
		Role:       DefaultRole,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.idents.Create(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Login authenticates credentials and issues a fresh token pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *Identity, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	identity, err := s.idents.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrUnauthenticated
		}
		return TokenPair{}, nil, fmt.Errorf("load identity: %w", err)
	}
	if !identity.Active {
		return TokenPair{}, nil, ErrForbidden
	}
	if err := VerifyPassword(identity.SecretHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthenticated
	}
	pair, err := s.mintPair(ctx, identity)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, identity, nil
}

// Authenticate verifies an access token and resolves the current
// identity state. A valid token for a deactivated identity fails with
// ErrForbidden, distinct from ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.VerifyToken(accessToken, TokenAccess)
	if err != nil {
		return Principal{}, err
	}
	identity, err := s.idents.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("load identity: %w", err)
	}
	if !identity.Active {
		return Principal{}, ErrForbidden
	}
	return PrincipalFor(identity), nil
}

// ChangePassword rotates the secret and revokes every outstanding
// refresh credential of the subject.
func (s *Service) ChangePassword(ctx context.Context, subjectID, current, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	identity, err := s.idents.Find(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("load identity: %w", err)
	}
	if err := VerifyPassword(identity.SecretHash, current); err != nil {
		return ErrUnauthenticated
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.idents.UpdatePassword(ctx, subjectID, hash); err != nil {
		return err
	}
	return s.creds.RevokeAllForSubject(ctx, subjectID)
}

// RequestPasswordReset issues a single-use reset token for the account.
// Delivery is the caller's concern; the service never sends mail.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, *Credential, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	identity, err := s.idents.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("load identity: %w", err)
	}
	if !identity.Active {
		return "", nil, ErrForbidden
	}
	return s.IssueResetToken(ctx, identity)
}

// ResetPassword redeems a reset token. The token is single use; a
// successful reset revokes the subject's outstanding credentials so
// sessions opened before the reset cannot keep refreshing.
func (s *Service) ResetPassword(ctx context.Context, token, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	claims, err := s.VerifyToken(token, TokenReset)
	if err != nil {
		return err
	}
	rec, err := s.creds.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load credential: %w", err)
	}
	if rec.Revoked || rec.Used {
		return ErrInvalidToken
	}
	if s.now().After(rec.ExpiresAt) {
		return ErrExpiredToken
	}
	identity, err := s.idents.Find(ctx, rec.SubjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load subject: %w", err)
	}
	if !identity.Active {
		return ErrForbidden
	}
	won, err := s.creds.MarkUsed(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("mark credential used: %w", err)
	}
	if !won {
		return ErrInvalidToken
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.idents.UpdatePassword(ctx, rec.SubjectID, hash); err != nil {
		return err
	}
	return s.creds.RevokeAllForSubject(ctx, rec.SubjectID)
}

// RequestEmailVerification issues a single-use verification token for
// the subject's address. Like the reset flow, delivery is out of band.
func (s *Service) RequestEmailVerification(ctx context.Context, subjectID string) (string, *Credential, error) {
	identity, err := s.idents.Find(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrUnauthenticated
		}
		return "", nil, fmt.Errorf("load identity: %w", err)
	}
	if !identity.Active {
		return "", nil, ErrForbidden
	}
	if identity.Verified {
		return "", nil, fmt.Errorf("%w: email already verified", ErrConflict)
	}
	return s.IssueVerifyToken(ctx, identity)
}

// ConfirmEmail redeems a verification token and marks the subject's
// address verified. The token is single use.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.VerifyToken(token, TokenVerify)
	if err != nil {
		return nil, err
	}
	rec, err := s.creds.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if rec.Revoked || rec.Used {
		return nil, ErrInvalidToken
	}
	if s.now().After(rec.ExpiresAt) {
		return nil, ErrExpiredToken
	}
	identity, err := s.idents.Find(ctx, rec.SubjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if !identity.Active {
		return nil, ErrForbidden
	}
	won, err := s.creds.MarkUsed(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("mark credential used: %w", err)
	}
	if !won {
		return nil, ErrInvalidToken
	}
	identity.Verified = true
	identity.UpdatedAt = s.now().UTC()
	if err := s.idents.Update(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// AccessUpdate mutates an identity's privilege surface. Nil fields are
// left untouched.
type AccessUpdate struct {
	Role      *Role
	Modules   *[]Module
	Resources *[]string
	Active    *bool
}

// UpdateAccess applies an access update. Deactivation also revokes the
// subject's outstanding credentials so a suspended account cannot keep
// refreshing.
func (s *Service) UpdateAccess(ctx context.Context, id string, upd AccessUpdate) (*Identity, error) {
	identity, err := s.idents.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *upd.Role)
		}
		identity.Role = *upd.Role
	}
	if upd.Modules != nil {
		modules := make([]Module, 0, len(*upd.Modules))
		for _, m := range *upd.Modules {
			parsed, err := ParseModule(string(m))
			if err != nil {
				return nil, err
			}
			modules = append(modules, parsed)
		}
		identity.Modules = modules
	}
	if upd.Resources != nil {
		identity.Resources = *upd.Resources
	}
	deactivated := false
	if upd.Active != nil {
		deactivated = identity.Active && !*upd.Active
		identity.Active = *upd.Active
	}
	identity.UpdatedAt = s.now().UTC()
	if err := s.idents.Update(ctx, identity); err != nil {
		return nil, err
	}
	if deactivated {
		if err := s.creds.RevokeAllForSubject(ctx, id); err != nil {
			return nil, err
		}
	}
	return identity, nil
}

// ListIdentities returns every identity for the admin surface.
func (s *Service) ListIdentities(ctx context.Context) ([]*Identity, error) {
	return s.idents.List(ctx)
}

// FindIdentity loads a single identity.
func (s *Service) FindIdentity(ctx context.Context, id string) (*Identity, error) {
	return s.idents.Find(ctx, id)
}
