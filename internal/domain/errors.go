package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError indicates malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a validation error for a named input field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError indicates an unknown version or entity id.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError builds a not-found error for the given resource.
func NewNotFoundError(resource string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError indicates a concurrent collision, such as two publishes
// racing on the active pointer or a duplicate version number allocation.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Reason)
}

// NewConflictError builds a conflict error.
func NewConflictError(reason string) *ConflictError {
	return &ConflictError{Reason: reason}
}

// StateError indicates an operation that is invalid for the target's current
// lifecycle state, such as deleting an active version.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed: %s", e.Op, e.Reason)
}

// NewStateError builds a lifecycle state error.
func NewStateError(op, reason string) *StateError {
	return &StateError{Op: op, Reason: reason}
}

// ConcurrencyError indicates that bounded retries on a retryable collision
// (version number allocation, active-pointer CAS) were exhausted.
type ConcurrencyError struct {
	Op       string
	Attempts int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts", e.Op, e.Attempts)
}

// NewConcurrencyError builds a retries-exhausted error.
func NewConcurrencyError(op string, attempts int) *ConcurrencyError {
	return &ConcurrencyError{Op: op, Attempts: attempts}
}

// StorageError wraps an underlying persistence failure. It is always
// propagated, never swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps a persistence failure with the operation it broke.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
