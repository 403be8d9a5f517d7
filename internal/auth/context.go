package auth

import "context"

// The gate is the only writer of these context values; handlers read
// them back through the accessors below.
type ctxKey int

const (
	ctxPrincipal ctxKey = iota + 1
	ctxToken
)

// ContextWithPrincipal attaches the caller's resolved privilege
// snapshot. The bearer gate sets it after Authenticate succeeds; the
// optional gate sets it only when a presented token verifies.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, &p)
}

// PrincipalFromContext reports the caller's principal. ok is false for
// anonymous requests, which on optionally gated routes is a normal
// outcome rather than an error.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(ctxPrincipal).(*Principal)
	if !ok || p == nil {
		return Principal{}, false
	}
	return *p, true
}

// MaybePrincipal returns the principal pointer the engine expects, nil
// when the request is anonymous.
func MaybePrincipal(ctx context.Context) *Principal {
	if p, ok := PrincipalFromContext(ctx); ok {
		return &p
	}
	return nil
}

// ContextWithToken keeps the raw bearer string alongside the principal
// so handlers that revoke or forward it do not reparse the header.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxToken, token)
}

// TokenFromContext returns the bearer token the gate verified, if any.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(ctxToken).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
