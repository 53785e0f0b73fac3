package domain

import "fmt"

// ValidationError indicates invalid input from a caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NotFoundError indicates a requested resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError indicates a concurrent modification or duplicate resource.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflictError creates a new ConflictError.
func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// InvalidStateError indicates a disallowed state machine transition.
type InvalidStateError struct {
	From string
	To   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(from, to string) *InvalidStateError {
	return &InvalidStateError{From: from, To: to}
}

// ForbiddenError indicates the caller is not allowed to act on the resource.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// NewForbiddenError creates a new ForbiddenError.
func NewForbiddenError(message string) *ForbiddenError {
	return &ForbiddenError{Message: message}
}
