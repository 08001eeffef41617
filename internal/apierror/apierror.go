// Package apierror defines the closed set of error kinds the HTTP boundary
// maps to fixed status codes, so internal error text never leaks to clients.
package apierror

import (
	"errors"
	"net/http"
)

// Kind is one of a fixed set of error categories handlers return.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAccountLocked      Kind = "account_locked"
	KindTokenExpired       Kind = "token_expired"
	KindTokenReused        Kind = "token_reused"
	KindInvalidRequest     Kind = "invalid_request"
	KindForbidden          Kind = "forbidden"
	KindRateLimited        Kind = "rate_limited"
	KindConflict           Kind = "conflict"
	KindProvider           Kind = "provider_error"
	KindInternal           Kind = "internal"
)

var statusByKind = map[Kind]int{
	KindInvalidCredentials: http.StatusUnauthorized,
	KindAccountLocked:      http.StatusForbidden,
	KindTokenExpired:       http.StatusUnauthorized,
	KindTokenReused:        http.StatusUnauthorized,
	KindInvalidRequest:     http.StatusBadRequest,
	KindForbidden:          http.StatusForbidden,
	KindRateLimited:        http.StatusTooManyRequests,
	KindConflict:           http.StatusConflict,
	KindProvider:           http.StatusBadGateway,
	KindInternal:           http.StatusInternalServerError,
}

// Error is the typed error handlers return; it carries a client-safe message
// separate from whatever gets wrapped and logged server-side.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the fixed HTTP status code for this error's kind.
func (e *Error) Status() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New builds an Error with a client-safe message and no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error with a client-safe message and an internal cause that
// is never surfaced in the HTTP response but is available via errors.Unwrap
// for logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts an *Error from err, falling back to a generic internal error
// when err is not one of ours.
func As(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &Error{Kind: KindInternal, Message: "Internal error."}
}
