// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrBusy       = errors.New("operation already in progress")
)

type domainError struct {
	kind error
	msg  string
}

func (e *domainError) Error() string { return e.msg }

func (e *domainError) Unwrap() error { return e.kind }

// Invalid builds a validation error carrying a user-facing message.
func Invalid(format string, args ...any) error {
	return &domainError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error carrying a user-facing message.
func NotFound(format string, args ...any) error {
	return &domainError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// Conflict builds a unique-key or referential conflict error.
func Conflict(format string, args ...any) error {
	return &domainError{kind: ErrConflict, msg: fmt.Sprintf(format, args...)}
}

// Busy builds an error for a resource that is held by another operation.
func Busy(format string, args ...any) error {
	return &domainError{kind: ErrBusy, msg: fmt.Sprintf(format, args...)}
}

// StatusFor maps a domain error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes the failure envelope. Client errors surface their own
// message; server errors use fallback as the message and attach the cause.
func RespondError(w http.ResponseWriter, fallback string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		Fail(w, status, fallback, err.Error())
		return
	}
	Fail(w, status, err.Error(), "")
}
