package model

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"driveshare/internal/calendar"
)

var (
	ErrUnavailable         = errors.New("requested range is not covered by a free window")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("settlement already processed")
	ErrSecurityCheckFailed = errors.New("security check failed")
	ErrIntegrity           = errors.New("store integrity failure")

	ErrInvalidRange   = calendar.ErrInvalidRange
	ErrAmountMismatch = errors.New("amount does not match the settlement")
	ErrInvalidPrice   = errors.New("rental price must not be negative")
	ErrInvalidInput   = errors.New("invalid input")

	errVersionConflict = errors.New("calendar changed concurrently")
)

// IntegrityError is a store failure. The transaction it happened in has
// been rolled back.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

func isSQLiteBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy ||
			se.Code == sqlite3.ErrLocked
	}
	return false
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}

// storeErr wraps a database error for op and counts busy/locked hits.
func (s *Service) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isSQLiteBusy(err) && s.metrics != nil {
		s.metrics.DBBusyTotal.WithLabelValues(op).Inc()
	}
	return &IntegrityError{Op: op, Err: err}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// resultOf is the metrics label for an operation's outcome.
func resultOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrSecurityCheckFailed):
		return "security_check_failed"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrInvalidPrice):
		return "invalid"
	default:
		return "error"
	}
}
