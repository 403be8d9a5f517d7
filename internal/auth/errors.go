package auth

import (
	"errors"
	"net/http"
)

// Sentinel store/input errors. These are infrastructure failures, not
// authorization decisions, and must never be collapsed into a 401/403.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// Kind classifies an authentication or authorization failure.
type Kind string

const (
	KindUnauthenticated       Kind = "unauthenticated"
	KindForbidden             Kind = "forbidden"
	KindInsufficientPrivilege Kind = "insufficient_privilege"
	KindModuleNotAccessible   Kind = "module_not_accessible"
	KindResourceNotAssigned   Kind = "resource_not_assigned"
	KindExpiredToken          Kind = "expired_token"
	KindInvalidToken          Kind = "invalid_token"
	KindTokenReplay           Kind = "token_replay"
)

// Error is the structured failure produced by the gate, the token
// service and the authorization engine.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// HTTPStatus maps the failure kind onto the wire contract: credential
// problems are 401, privilege problems are 403.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindForbidden, KindInsufficientPrivilege, KindModuleNotAccessible, KindResourceNotAssigned:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Shared failure instances. Compared with errors.Is by identity.
var (
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated, msg: "authentication required"}
	ErrForbidden             = &Error{Kind: KindForbidden, msg: "account is blocked"}
	ErrInsufficientPrivilege = &Error{Kind: KindInsufficientPrivilege, msg: "insufficient privilege"}
	ErrModuleNotAccessible   = &Error{Kind: KindModuleNotAccessible, msg: "module not accessible"}
	ErrResourceNotAssigned   = &Error{Kind: KindResourceNotAssigned, msg: "resource not assigned"}
	ErrExpiredToken          = &Error{Kind: KindExpiredToken, msg: "token expired"}
	ErrInvalidToken          = &Error{Kind: KindInvalidToken, msg: "invalid token"}
	ErrTokenReplay           = &Error{Kind: KindTokenReplay, msg: "refresh token already used"}
)

// AsAuthError unwraps err into the structured failure, if it is one.
func AsAuthError(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
