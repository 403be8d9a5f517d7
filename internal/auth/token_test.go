package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:        "aidcore-test",
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		ResetSecret:   []byte("reset-secret"),
		VerifySecret:  []byte("verify-secret"),
	}
}

func newTestService(t *testing.T) (*Service, *InMemoryIdentities, *InMemoryCredentials, *fakeClock) {
	t.Helper()
	idents := NewInMemoryIdentities()
	creds := NewInMemoryCredentials()
	clock := newFakeClock()
	svc, err := NewService(idents, creds, testTokenConfig(), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, idents, creds, clock
}

func seedIdentity(t *testing.T, svc *Service, idents *InMemoryIdentities, role Role, modules ...Module) *Identity {
	t.Helper()
	identity, err := svc.Register(context.Background(), string(role)+"@example.org", "pass-word-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	identity.Role = role
	identity.Modules = modules
	if err := idents.Update(context.Background(), identity); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return identity
}

func TestVerifyTokenKindMismatch(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleWFPViewer, ModuleWFP)

	access, _, err := svc.IssueAccessToken(identity)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	refresh, _, err := svc.IssueRefreshToken(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}

	// Each kind signs with its own secret: cross-presentation fails even
	// though both signatures are individually correct.
	if _, err := svc.VerifyToken(access, TokenRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token verified as refresh: %v", err)
	}
	if _, err := svc.VerifyToken(refresh, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("refresh token verified as access: %v", err)
	}

	claims, err := svc.VerifyToken(access, TokenAccess)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != identity.ID || claims.Role != string(RoleWFPViewer) {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	svc, idents, _, clock := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)

	access, _, err := svc.IssueAccessToken(identity)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	clock.Advance(defaultAccessTTL + time.Minute)
	if _, err := svc.VerifyToken(access, TokenAccess); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyTokenTampered(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)

	access, _, err := svc.IssueAccessToken(identity)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	tampered := access[:len(access)-2] + "xx"
	if _, err := svc.VerifyToken(tampered, TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := svc.VerifyToken("  ", TokenAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for blank token, got %v", err)
	}
}

func TestExchangeRefreshRotates(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleDubeAgent, ModuleDube)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("ExchangeRefresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}

	// Second exchange of the spent token is a replay.
	if _, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenReplay) {
		t.Fatalf("expected ErrTokenReplay, got %v", err)
	}

	// The replay revoked the rest of the chain, including the freshly
	// rotated token.
	if _, _, err := svc.ExchangeRefresh(ctx, next.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked chain, got %v", err)
	}
}

func TestExchangeRefreshSingleUseUnderConcurrency(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const workers = 8
	results := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken)
			results <- err
		}()
	}
	start.Done()

	var wins, replays int
	for i := 0; i < workers; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		case errors.Is(err, ErrTokenReplay):
			replays++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful exchange, got %d", wins)
	}
	if replays != workers-1 {
		t.Fatalf("expected %d replays, got %d", workers-1, replays)
	}
}

func TestExchangeRefreshExpiredRecord(t *testing.T) {
	svc, idents, _, clock := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	clock.Advance(defaultRefreshTTL + time.Hour)
	if _, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestExchangeRefreshInactiveSubject(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	inactive := false
	if _, err := svc.UpdateAccess(ctx, identity.ID, AccessUpdate{Active: &inactive}); err != nil {
		t.Fatalf("UpdateAccess: %v", err)
	}
	// Deactivation already revoked the chain, so the exchange fails
	// before the active check is even reached.
	if _, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRevokeAllInvalidatesOutstandingRefreshTokens(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	first, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.RevokeAll(ctx, identity.ID); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, _, err := svc.ExchangeRefresh(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected revoked token, got %v", err)
		}
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}
	if _, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked token, got %v", err)
	}
}

func TestRefreshTokenOmitsRole(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleWFPAdmin)

	refresh, _, err := svc.IssueRefreshToken(context.Background(), identity)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	claims, err := svc.VerifyToken(refresh, TokenRefresh)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Role != "" {
		t.Fatalf("refresh claims must not carry a role, got %q", claims.Role)
	}
	if !strings.EqualFold(claims.Kind, string(TokenRefresh)) {
		t.Fatalf("unexpected kind: %s", claims.Kind)
	}
}
