package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"aidcore.org/internal/ids"
	"aidcore.org/internal/obs"
)

// TokenKind discriminates issued credentials. Each kind signs with its
// own secret, so a token of one kind never verifies as another.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenReset   TokenKind = "reset"
	TokenVerify  TokenKind = "verify"
)

// Claims is the signed token payload: {sub, role, kind, iat, exp}.
type Claims struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenPair is the result of a login or refresh exchange.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func (s *Service) secretFor(kind TokenKind) ([]byte, error) {
	var secret []byte
	switch kind {
	case TokenAccess:
		secret = s.cfg.AccessSecret
	case TokenRefresh:
		secret = s.cfg.RefreshSecret
	case TokenReset:
		secret = s.cfg.ResetSecret
	case TokenVerify:
		secret = s.cfg.VerifySecret
	default:
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrInvalidInput, kind)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("auth: %s signing secret is not configured", kind)
	}
	return secret, nil
}

func (s *Service) ttlFor(kind TokenKind) time.Duration {
	switch kind {
	case TokenRefresh:
		return s.cfg.RefreshTTL
	case TokenReset:
		return s.cfg.ResetTTL
	case TokenVerify:
		return s.cfg.VerifyTTL
	default:
		return s.cfg.AccessTTL
	}
}

// sign produces a token of the given kind for the subject. The caller
// decides whether a credential record accompanies it.
func (s *Service) sign(subjectID string, role Role, kind TokenKind, jti string) (string, time.Time, error) {
	secret, err := s.secretFor(kind)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now().UTC()
	exp := now.Add(s.ttlFor(kind))
	claims := Claims{
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	if kind == TokenAccess {
		claims.Role = string(role)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	obs.ObserveTokenIssued(string(kind))
	return signed, exp, nil
}

// IssueAccessToken mints a short-lived access token. Pure compute, no
// record is persisted.
func (s *Service) IssueAccessToken(id *Identity) (string, time.Time, error) {
	return s.sign(id.ID, id.Role, TokenAccess, ids.New())
}

// IssueRefreshToken mints a long-lived single-use refresh token and
// persists its credential record as unused and unrevoked.
func (s *Service) IssueRefreshToken(ctx context.Context, id *Identity) (string, *Credential, error) {
	return s.issuePersisted(ctx, id, TokenRefresh)
}

// IssueResetToken mints a password-reset token.
func (s *Service) IssueResetToken(ctx context.Context, id *Identity) (string, *Credential, error) {
	return s.issuePersisted(ctx, id, TokenReset)
}

// IssueVerifyToken mints an email-verification token.
func (s *Service) IssueVerifyToken(ctx context.Context, id *Identity) (string, *Credential, error) {
	return s.issuePersisted(ctx, id, TokenVerify)
}

func (s *Service) issuePersisted(ctx context.Context, id *Identity, kind TokenKind) (string, *Credential, error) {
	jti := ids.New()
	token, exp, err := s.sign(id.ID, id.Role, kind, jti)
	if err != nil {
		return "", nil, err
	}
	rec := &Credential{
		ID:        jti,
		SubjectID: id.ID,
		Kind:      kind,
		IssuedAt:  s.now().UTC(),
		ExpiresAt: exp,
	}
	if err := s.creds.Create(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("persist %s credential: %w", kind, err)
	}
	return token, rec, nil
}

// VerifyToken checks signature, expiry and that the embedded kind
// matches the expected one. The verification key is selected by the
// expected kind, so a refresh token presented where an access token is
// expected fails outright even with a correct refresh signature.
func (s *Service) VerifyToken(token string, expected TokenKind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	secret, err := s.secretFor(expected)
	if err != nil {
		return nil, err
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != string(expected) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExchangeRefresh rotates a refresh token: it verifies the token, marks
// the backing credential used via a conditional update and issues a
// fresh pair. Reuse of an already-used token is treated as a compromise
// signal and revokes the subject's outstanding credentials.
func (s *Service) ExchangeRefresh(ctx context.Context, token string) (TokenPair, *Identity, error) {
	claims, err := s.VerifyToken(token, TokenRefresh)
	if err != nil {
		return TokenPair{}, nil, err
	}

	rec, err := s.creds.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidToken
		}
		return TokenPair{}, nil, fmt.Errorf("load credential: %w", err)
	}
	if rec.Revoked {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if s.now().After(rec.ExpiresAt) {
		return TokenPair{}, nil, ErrExpiredToken
	}
	if rec.Used {
		_ = s.creds.RevokeAllForSubject(ctx, rec.SubjectID)
		return TokenPair{}, nil, ErrTokenReplay
	}

	identity, err := s.idents.Find(ctx, rec.SubjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidToken
		}
		return TokenPair{}, nil, fmt.Errorf("load subject: %w", err)
	}
	if !identity.Active {
		return TokenPair{}, nil, ErrForbidden
	}

	// Commit point. Losing the conditional update means a concurrent
	// exchange already spent this credential.
	won, err := s.creds.MarkUsed(ctx, rec.ID)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("mark credential used: %w", err)
	}
	if !won {
		_ = s.creds.RevokeAllForSubject(ctx, rec.SubjectID)
		return TokenPair{}, nil, ErrTokenReplay
	}

	pair, err := s.mintPair(ctx, identity)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, identity, nil
}

// Revoke marks the refresh token's credential revoked. Revoking an
// already-revoked or expired token is a no-op.
func (s *Service) Revoke(ctx context.Context, token string) error {
	claims, err := s.VerifyToken(token, TokenRefresh)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil
		}
		return err
	}
	if err := s.creds.MarkRevoked(ctx, claims.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// RevokeAll revokes every outstanding credential of the subject.
func (s *Service) RevokeAll(ctx context.Context, subjectID string) error {
	return s.creds.RevokeAllForSubject(ctx, subjectID)
}

func (s *Service) mintPair(ctx context.Context, id *Identity) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(id)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.IssueRefreshToken(ctx, id)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}
