package auth

import (
	"context"
	"errors"
	"testing"
)

func TestNewServiceValidatesSecrets(t *testing.T) {
	idents := NewInMemoryIdentities()
	creds := NewInMemoryCredentials()

	cfg := testTokenConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	if _, err := NewService(idents, creds, cfg); err == nil {
		t.Fatal("expected error for shared access/refresh secret")
	}

	cfg = testTokenConfig()
	cfg.AccessSecret = nil
	if _, err := NewService(idents, creds, cfg); err == nil {
		t.Fatal("expected error for missing access secret")
	}
}

func TestRegisterDefaults(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	identity, err := svc.Register(ctx, " Officer@Example.ORG ", "pass-word-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if identity.Email != "officer@example.org" {
		t.Fatalf("email not normalized: %s", identity.Email)
	}
	if identity.Role != RoleUser || !identity.Active {
		t.Fatalf("unexpected defaults: role=%s active=%v", identity.Role, identity.Active)
	}
	if len(identity.Modules) != 0 {
		t.Fatalf("fresh identities carry no module assignments: %v", identity.Modules)
	}

	if _, err := svc.Register(ctx, "officer@example.org", "other"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}
	if _, err := svc.Register(ctx, "", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleWFPViewer, ModuleWFP)
	ctx := context.Background()

	if _, _, err := svc.Login(ctx, identity.Email, "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "ghost@example.org", "pass-word-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for unknown email, got %v", err)
	}

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	p, err := svc.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ID != identity.ID || p.Role != RoleWFPViewer {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.HasModule(ModuleWFP) {
		t.Fatal("principal lost its module assignment")
	}
}

func TestAuthenticateInactiveIdentity(t *testing.T) {
	// A still-valid access token must stop working the moment the
	// identity is deactivated.
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

	if _, err := svc.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, _, err := svc.Login(ctx, identity.Email, "pass-word-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on login, got %v", err)
	}
}

func TestAuthenticateUnknownSubject(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	access, _, err := svc.IssueAccessToken(&Identity{ID: "gone", Role: RoleUser})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), access); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestChangePasswordRevokesRefreshChain(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := svc.ChangePassword(ctx, identity.ID, "wrong", "next-pass"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := svc.ChangePassword(ctx, identity.ID, "pass-word-1", "next-pass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Every previously issued refresh credential is revoked.
	if _, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}

	if _, _, err := svc.Login(ctx, identity.Email, "pass-word-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, identity.Email, "next-pass"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, identity.Email, "pass-word-1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	token, rec, err := svc.RequestPasswordReset(ctx, identity.Email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if rec.SubjectID != identity.ID || rec.Kind != TokenReset {
		t.Fatalf("unexpected credential: %+v", rec)
	}

	if err := svc.ResetPassword(ctx, token, "fresh-pass-9"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	// The reset revokes every outstanding refresh credential.
	if _, _, err := svc.ExchangeRefresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
	if _, _, err := svc.Login(ctx, identity.Email, "pass-word-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, _, err := svc.Login(ctx, identity.Email, "fresh-pass-9"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}

	// Single use: redeeming the same token again fails.
	if err := svc.ResetPassword(ctx, token, "another-pass"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected spent reset token, got %v", err)
	}
}

func TestPasswordResetUnknownOrExpired(t *testing.T) {
	svc, idents, _, clock := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	if _, _, err := svc.RequestPasswordReset(ctx, "ghost@example.org"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	token, _, err := svc.RequestPasswordReset(ctx, identity.Email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	clock.Advance(2 * defaultResetTTL)
	if err := svc.ResetPassword(ctx, token, "fresh-pass-9"); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	token, rec, err := svc.RequestEmailVerification(ctx, identity.ID)
	if err != nil {
		t.Fatalf("RequestEmailVerification: %v", err)
	}
	if rec.Kind != TokenVerify || rec.SubjectID != identity.ID {
		t.Fatalf("unexpected credential: %+v", rec)
	}

	verified, err := svc.ConfirmEmail(ctx, token)
	if err != nil {
		t.Fatalf("ConfirmEmail: %v", err)
	}
	if !verified.Verified {
		t.Fatal("identity not marked verified")
	}

	// Single use: confirming again fails.
	if _, err := svc.ConfirmEmail(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected spent verify token, got %v", err)
	}
	// An already verified address cannot request another token.
	if _, _, err := svc.RequestEmailVerification(ctx, identity.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A reset token never passes as a verification token.
	reset, _, err := svc.RequestPasswordReset(ctx, identity.Email)
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if _, err := svc.ConfirmEmail(ctx, reset); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected kind mismatch, got %v", err)
	}
}

func TestUpdateAccess(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	identity := seedIdentity(t, svc, idents, RoleUser)
	ctx := context.Background()

	role := RoleWFPOfficer
	modules := []Module{ModuleWFP}
	resources := []string{"cycle-7", "cycle-8"}
	updated, err := svc.UpdateAccess(ctx, identity.ID, AccessUpdate{
		Role:      &role,
		Modules:   &modules,
		Resources: &resources,
	})
	if err != nil {
		t.Fatalf("UpdateAccess: %v", err)
	}
	if updated.Role != RoleWFPOfficer || !updated.HasModule(ModuleWFP) {
		t.Fatalf("update not applied: %+v", updated)
	}
	if len(updated.Resources) != 2 {
		t.Fatalf("resource assignments not applied: %v", updated.Resources)
	}

	bad := Role("root")
	if _, err := svc.UpdateAccess(ctx, identity.ID, AccessUpdate{Role: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	badModules := []Module{"hr"}
	if _, err := svc.UpdateAccess(ctx, identity.ID, AccessUpdate{Modules: &badModules}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown module, got %v", err)
	}
	if _, err := svc.UpdateAccess(ctx, "missing", AccessUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListIdentities(t *testing.T) {
	svc, idents, _, _ := newTestService(t)
	seedIdentity(t, svc, idents, RoleUser)
	seedIdentity(t, svc, idents, RoleWFPAdmin)

	list, err := svc.ListIdentities(context.Background())
	if err != nil {
		t.Fatalf("ListIdentities: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(list))
	}
}
