// Package apperr defines the error kinds surfaced by the service and their
// HTTP mapping. Handlers respond with {"error": Code, "message": Message}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

// Machine readable codes.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeUnauthenticated = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeUnavailable     = "DEPENDENCY_UNAVAILABLE"
	CodeInternal        = "INTERNAL_ERROR"
)

// Error is the service error type.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

func newError(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(KindValidation, CodeValidation, fmt.Sprintf(format, args...), nil)
}

func Unauthenticated(msg string) *Error {
	return newError(KindUnauthenticated, CodeUnauthenticated, msg, nil)
}

// Forbidden carries a short explanation of the check that failed.
func Forbidden(format string, args ...interface{}) *Error {
	return newError(KindForbidden, CodeForbidden, fmt.Sprintf(format, args...), nil)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, CodeNotFound, fmt.Sprintf(format, args...), nil)
}

func Conflict(format string, args ...interface{}) *Error {
	return newError(KindConflict, CodeConflict, fmt.Sprintf(format, args...), nil)
}

// External wraps a failed dependency (tenant database, vault, renderer).
// msg must be safe to show to clients; err is kept for logs only.
func External(msg string, err error) *Error {
	return newError(KindExternal, CodeUnavailable, msg, err)
}

func Internal(msg string, err error) *Error {
	return newError(KindInternal, CodeInternal, msg, err)
}

// WithCode overrides the machine readable code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the status, code and client-safe message for err.
// External and internal failures never expose their underlying cause.
func Public(err error) (status int, code, message string) {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, CodeInternal, "internal server error"
	}
	status = HTTPStatus(e.Kind)
	switch e.Kind {
	case KindExternal:
		if e.Message == "" {
			return status, e.Code, "a backing service is unavailable"
		}
		return status, e.Code, e.Message
	case KindInternal:
		return status, e.Code, "internal server error"
	}
	return status, e.Code, e.Message
}
