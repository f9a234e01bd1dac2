package auth

import (
	"errors"
	"fmt"
)

// Error kinds. The HTTP layer maps these to status codes without looking
// at anything beyond errors.Is.
var (
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrConflict     = errors.New("auth: conflict")
	ErrNotFound     = errors.New("auth: not found")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
)

// Error is a coded failure: a stable machine-readable code alongside the
// human message, wrapping one of the kind sentinels above.
type Error struct {
	Code    string
	Message string
	kind    error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.kind }

// Authentication failures. Not-found and wrong-password share
// ErrInvalidCredentials deliberately: distinct errors would let a caller
// enumerate registered emails.
var (
	ErrInvalidCredentials = &Error{Code: "INVALID_CREDENTIALS", Message: "invalid email or password", kind: ErrUnauthorized}
	ErrTokenExpired       = &Error{Code: "TOKEN_EXPIRED", Message: "token has expired", kind: ErrUnauthorized}
	ErrTokenRevoked       = &Error{Code: "TOKEN_REVOKED", Message: "token has been revoked", kind: ErrUnauthorized}
	ErrInvalidToken       = &Error{Code: "INVALID_TOKEN", Message: "invalid token", kind: ErrUnauthorized}
	ErrAccountInactive    = &Error{Code: "ACCOUNT_INACTIVE", Message: "account is inactive", kind: ErrForbidden}
)

// LockedError reports a brute-force lockout along with how long the caller
// has to wait.
type LockedError struct {
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account is locked, try again in %d minutes", e.RemainingMinutes)
}

func (e *LockedError) Unwrap() error { return ErrUnauthorized }

// Code returns the machine-readable code, mirroring Error.
func (e *LockedError) Code() string { return "ACCOUNT_LOCKED" }

// ErrorCode extracts the machine-readable code from a core error, falling
// back to a kind-level code.
func ErrorCode(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	var locked *LockedError
	if errors.As(err, &locked) {
		return locked.Code()
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	default:
		return "INTERNAL_ERROR"
	}
}
