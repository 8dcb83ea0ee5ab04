package driveshareclient

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable         = errors.New("range unavailable")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("settlement already processed")
	ErrSecurityCheckFailed = errors.New("security check failed")
	ErrIntegrity           = errors.New("store integrity failure")
	ErrInvalid             = errors.New("invalid request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
)

var codeErrors = map[string]error{
	"UNAVAILABLE":           ErrUnavailable,
	"NOT_FOUND":             ErrNotFound,
	"ALREADY_PROCESSED":     ErrAlreadyProcessed,
	"SECURITY_CHECK_FAILED": ErrSecurityCheckFailed,
	"INTEGRITY":             ErrIntegrity,
	"AMOUNT_MISMATCH":       ErrInvalid,
	"INVALID":               ErrInvalid,
	"UNAUTHORIZED":          ErrUnauthorized,
	"FORBIDDEN":             ErrForbidden,
}

// APIError is any non-2xx answer. errors.Is matches it against the
// package's sentinel errors by the server's error code.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s -> %d %s: %s", e.Method, e.Path, e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	sentinel, ok := codeErrors[e.Code]
	return ok && sentinel == target
}
