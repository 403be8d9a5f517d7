package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"aidcore.org/internal/auth"
	"aidcore.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/password/reset",
	"/v1/auth/password/reset/confirm",
	"/v1/auth/verify/confirm",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates every non-public request: it extracts the
// bearer token, verifies it as an access token and attaches the
// resulting principal to the context. Storage failures surface as 500,
// never as an authentication failure. Public paths run through the
// optional gate instead: a bearer token that verifies attaches a
// principal, anything else proceeds anonymously.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, a.withOptionalPrincipal(r))
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.ObserveDecision(false, string(auth.KindUnauthenticated))
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if ae, ok := auth.AsAuthError(err); ok {
				obs.ObserveDecision(false, string(ae.Kind))
				writeError(w, r, ae.HTTPStatus(), ae.Error())
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withOptionalPrincipal runs the same verification as the strict gate
// but never rejects: a missing, malformed or unverifiable token simply
// leaves the request anonymous.
func (a *API) withOptionalPrincipal(r *http.Request) *http.Request {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return r
	}
	principal, err := a.auth.Authenticate(r.Context(), token)
	if err != nil {
		return r
	}
	ctx := auth.ContextWithPrincipal(r.Context(), principal)
	ctx = auth.ContextWithToken(ctx, token)
	return r.WithContext(ctx)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
