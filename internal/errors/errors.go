// Package errors provides the error types shared by the bot.
// Callers check them with errors.Is / errors.As instead of string matching.
package errors

import (
	"errors"
	"fmt"
)

// Aliases for the standard library helpers so callers need one import.
var (
	New = errors.New
	Is  = errors.Is
	As  = errors.As
)

// Sentinel errors.
var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden indicates the bot account lacks the privilege for an action.
	ErrForbidden = errors.New("forbidden")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = errors.New("operation canceled")

	// ErrMissingToken indicates the platform token is not configured.
	ErrMissingToken = errors.New("platform token not configured")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// PlatformError wraps a failed call against the chat platform.
type PlatformError struct {
	Op         string // e.g. "create role"
	Entity     string // entity name or ID
	StatusCode int
	Code       int // platform-specific error code
	Err        error
}

// Error implements the error interface.
func (e *PlatformError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %q: platform error (status %d, code %d): %v", e.Op, e.Entity, e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Entity, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Is reports privilege failures as ErrForbidden.
func (e *PlatformError) Is(target error) bool {
	return target == ErrForbidden && e.StatusCode == 403
}

// IsForbidden reports whether err is a privilege failure.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
