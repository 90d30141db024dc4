package shared

import (
	"context"
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// Is matches domain errors by code so wrapped copies compare equal to the sentinels
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrInvalidState        = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrInsufficientBalance = NewDomainError("INSUFFICIENT_BALANCE", "Insufficient balance available")
	ErrValidation          = NewDomainError("VALIDATION_ERROR", "Validation failed")
	ErrTransientIO         = NewDomainError("TRANSIENT_IO", "Downstream dependency temporarily unavailable")
)

// NewValidationError returns a validation error with a specific message
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrValidation.Code, message)
}

// NewTransientIOError wraps an infrastructure failure the caller may retry
func NewTransientIOError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientIO, err)
}

// IsTransient reports whether err is a transient infrastructure failure
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientIO) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrConcurrencyConflict)
}

// FailureKind classifies how an event handler failure affects delivery
type FailureKind string

const (
	// FailureRetryable asks the bus to redeliver the event
	FailureRetryable FailureKind = "retryable"
	// FailurePermanent acknowledges the event; the failure was already recorded
	FailurePermanent FailureKind = "permanent"
)

// HandlerError is the result of a failed event handling attempt
type HandlerError struct {
	Kind FailureKind
	Code string
	Err  error
}

// Error implements the error interface
func (e *HandlerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failure [%s]", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s failure [%s]: %v", e.Kind, e.Code, e.Err)
}

// Unwrap returns the underlying error
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Retryable marks err as worth redelivering
func Retryable(code string, err error) error {
	return &HandlerError{Kind: FailureRetryable, Code: code, Err: err}
}

// Permanent marks err as final for this event
func Permanent(code string, err error) error {
	return &HandlerError{Kind: FailurePermanent, Code: code, Err: err}
}

// IsRetryable decides the ack for a handler result. Unclassified errors are retried so that
// nothing is dropped silently; the bus retry budget bounds them.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return he.Kind == FailureRetryable
	}
	return true
}
