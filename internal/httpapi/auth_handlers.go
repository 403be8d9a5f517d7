package httpapi

import (
	"net/http"
	"strings"
	"time"

	"aidcore.org/internal/auth"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Everywhere   bool   `json:"everywhere"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetResponse struct {
	ResetToken string    `json:"reset_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type resetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type verifyResponse struct {
	VerifyToken string    `json:"verify_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type verifyConfirmRequest struct {
	Token string `json:"token"`
}

type tokenPairResponse struct {
	auth.TokenPair
	Identity *auth.Identity `json:"identity,omitempty"`
}

const minPasswordLength = 8

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := auth.NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, r, http.StatusBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	identity, err := a.auth.Register(r.Context(), email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.register", map[string]any{
		"subject_id": identity.ID,
		"email":      identity.Email,
	})
	w.Header().Set("Location", "/v1/identities/"+identity.ID)
	writeJSON(w, http.StatusCreated, identity)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	pair, identity, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.login", map[string]any{
		"subject_id": identity.ID,
		"email":      identity.Email,
	})
	writeJSON(w, http.StatusOK, tokenPairResponse{TokenPair: pair, Identity: identity})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, identity, err := a.auth.ExchangeRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		if ae, ok := auth.AsAuthError(err); ok && ae.Kind == auth.KindTokenReplay {
			a.audit(r.Context(), "auth.refresh.replay", map[string]any{})
		}
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.refresh", map[string]any{
		"subject_id": identity.ID,
	})
	writeJSON(w, http.StatusOK, tokenPairResponse{TokenPair: pair})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Everywhere {
		if err := a.auth.RevokeAll(r.Context(), principal.ID); err != nil {
			handleAuthError(w, r, err)
			return
		}
	} else {
		if strings.TrimSpace(req.RefreshToken) == "" {
			writeError(w, r, http.StatusBadRequest, "refresh_token is required")
			return
		}
		if err := a.auth.Revoke(r.Context(), req.RefreshToken); err != nil {
			handleAuthError(w, r, err)
			return
		}
	}

	a.audit(r.Context(), "auth.logout", map[string]any{
		"subject_id": principal.ID,
		"everywhere": req.Everywhere,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	if err := a.auth.ChangePassword(r.Context(), principal.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.password.change", map[string]any{
		"subject_id": principal.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// handlePasswordReset mints a single-use reset token. There is no
// mailer, so the token is handed back to the caller for out-of-band
// delivery.
func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	token, rec, err := a.auth.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.password.reset_requested", map[string]any{
		"subject_id": rec.SubjectID,
	})
	writeJSON(w, http.StatusOK, resetResponse{ResetToken: token, ExpiresAt: rec.ExpiresAt})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	if err := a.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.password.reset", map[string]any{})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}

// handleEmailVerify mints a single-use verification token for the
// authenticated caller's own address.
func (a *API) handleEmailVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	token, rec, err := a.auth.RequestEmailVerification(r.Context(), principal.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.verify_requested", map[string]any{
		"subject_id": principal.ID,
	})
	writeJSON(w, http.StatusOK, verifyResponse{VerifyToken: token, ExpiresAt: rec.ExpiresAt})
}

func (a *API) handleEmailVerifyConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	identity, err := a.auth.ConfirmEmail(r.Context(), req.Token)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.verified", map[string]any{
		"subject_id": identity.ID,
	})
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	identity, err := a.auth.FindIdentity(r.Context(), principal.ID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
