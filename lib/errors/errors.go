// Package errors provides the typed error surface for connkeeper.
// Every public operation in the module resolves to one of the sentinel
// errors below, so callers can branch on errors.Is rather than string
// matching.
//
// This package provides:
//   - Sentinel errors for every failure condition the pool can report
//   - Error codes for categorizing failures in logs and tooling
//   - Error wrapping with context preservation
package errors

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

// Error codes for categorizing errors.
const (
	CodeInternal      = 1  // Unclassified internal error
	CodeTimeout       = 2  // Operation deadline elapsed
	CodeNotFound      = 3  // Named resource does not exist
	CodeConflict      = 4  // Named resource already exists
	CodeExhausted     = 5  // Pool is at capacity
	CodeConnection    = 6  // Connection establishment failed
	CodeReset         = 7  // On-return session reset failed
	CodeInvalidTicket = 8  // Wrong, reused, or foreign checkout ticket
	CodeClosed        = 9  // Pool or registry is closed or draining
	CodeConfiguration = 10 // Invalid configuration
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these conditions.
var (
	// ErrTimeout indicates an operation did not complete within its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrNotFound indicates a named resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a named resource already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrPoolNotFound indicates the named pool is not registered.
	ErrPoolNotFound = fmt.Errorf("pool %w", ErrNotFound)

	// ErrPoolExhausted indicates the pool is at max size with no idle workers.
	ErrPoolExhausted = errors.New("pool exhausted")

	// ErrConnectFailed indicates a database connection could not be established.
	ErrConnectFailed = errors.New("connect failed")

	// ErrResetFailed indicates the on-return hook failed or timed out.
	ErrResetFailed = errors.New("session reset failed")

	// ErrInvalidTicket indicates a checkout ticket was already redeemed or
	// does not belong to the pool it was presented to.
	ErrInvalidTicket = errors.New("invalid checkout ticket")

	// ErrPoolClosed indicates the pool has been closed.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrDraining indicates the pool is draining and refuses new checkouts.
	ErrDraining = errors.New("pool is draining")

	// ErrConfiguration indicates an invalid configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrCircuitOpen indicates the connect circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Registry errors
var (
	// ErrRegistryClosed indicates the registry has been shut down.
	ErrRegistryClosed = fmt.Errorf("registry: %w", ErrPoolClosed)

	// ErrDuplicatePool indicates a pool with the same name is registered.
	ErrDuplicatePool = fmt.Errorf("registry: pool %w", ErrAlreadyExists)
)

// Error is a structured error with a code and message. It implements the
// error interface and preserves the underlying cause for errors.Is/As.
type Error struct {
	// Code is the error code for categorization
	Code int `json:"code"`
	// Message is a short operator-facing message
	Message string `json:"message"`
	// Err is the underlying error
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new structured error with the given code and message.
func New(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, err error) *Error {
	if err != nil {
		log.WithField("code", code).WithError(err).Debug("wrapping error")
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithContext annotates err with a call-site message while keeping the
// error chain intact. Returns nil when err is nil.
func WithContext(err error, message string) error {
	if err == nil {
		return nil
	}
	return xerrors.Errorf("%s: %w", message, err)
}

// WithContextf is WithContext with a format string.
func WithContextf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return xerrors.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// FromSentinel creates a structured error from a sentinel error.
// It assigns an error code based on the error type.
func FromSentinel(err error) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:    CodeOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// CodeOf maps sentinel errors to error codes.
func CodeOf(err error) int {
	switch {
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrAlreadyExists):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPoolExhausted):
		return CodeExhausted
	case errors.Is(err, ErrConnectFailed), errors.Is(err, ErrCircuitOpen):
		return CodeConnection
	case errors.Is(err, ErrResetFailed):
		return CodeReset
	case errors.Is(err, ErrInvalidTicket):
		return CodeInvalidTicket
	case errors.Is(err, ErrPoolClosed), errors.Is(err, ErrDraining):
		return CodeClosed
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	default:
		return CodeInternal
	}
}

// IsTimeout returns true if the error indicates a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsExhausted returns true if the error indicates pool exhaustion.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// IsInvalidTicket returns true if the error indicates ticket misuse.
func IsInvalidTicket(err error) bool {
	return errors.Is(err, ErrInvalidTicket)
}

// IsClosed returns true if the error indicates a closed or draining pool.
func IsClosed(err error) bool {
	return errors.Is(err, ErrPoolClosed) || errors.Is(err, ErrDraining)
}

// Join combines multiple errors into a single error.
// Returns nil if all errors are nil.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target,
// and if so, sets target to that error value and returns true.
func As(err error, target any) bool {
	return errors.As(err, target)
}
