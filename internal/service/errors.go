package service

import (
	"errors"
	"fmt"

	"gymledger/internal/infrastructure/database"
)

var (
	// ErrNotFound is returned for a missing receivable or request id.
	ErrNotFound = errors.New("not found")
	// ErrReceivableNotFound and ErrRequestNotFound name the missing entity and match
	// ErrNotFound.
	ErrReceivableNotFound = fmt.Errorf("receivable %w", ErrNotFound)
	ErrRequestNotFound    = fmt.Errorf("request %w", ErrNotFound)
	// ErrInsufficientBalance is the expected "top up required" outcome of a consumption.
	ErrInsufficientBalance = errors.New("insufficient credit balance")
)

// ValidationError rejects bad input before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceFault wraps an unexpected store failure. The unit of work it interrupted
// was rolled back in full, so the caller may retry from scratch.
type PersistenceFault struct {
	Op  string
	Err error
}

func (e *PersistenceFault) Error() string {
	return fmt.Sprintf("persistence fault during %s: %v", e.Op, e.Err)
}

func (e *PersistenceFault) Unwrap() error {
	return e.Err
}

// AlreadyProcessed describes a request someone else decided first. It is an outcome,
// not an error.
type AlreadyProcessed struct {
	State     string `json:"state"`
	DecidedBy *int64 `json:"decided_by,omitempty"`
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

func IsPersistenceFault(err error) bool {
	var pf *PersistenceFault
	return errors.As(err, &pf)
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	return IsPersistenceFault(err) || database.IsTransient(err)
}

// classify passes business outcomes through and wraps everything else as a
// PersistenceFault for op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsPersistenceFault(err) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrInsufficientBalance) {
		return err
	}
	return &PersistenceFault{Op: op, Err: err}
}
