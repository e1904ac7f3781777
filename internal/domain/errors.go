package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during grading operations.
var (
	// ErrInvalidInput indicates that an operation received input that
	// violates its preconditions, such as an empty set of judge grades.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingCategory indicates that a judge grade omits a rubric category
	// while the strict missing-category policy is in effect.
	ErrMissingCategory = errors.New("missing category")

	// ErrNotFound indicates that a requested submission, user, or rubric
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates that the caller is not allowed to act on the
	// requested submission.
	ErrForbidden = errors.New("forbidden")

	// ErrNoRubric indicates that the patient actor behind a submission has no
	// grading rubric configured.
	ErrNoRubric = errors.New("no grading rubric configured for this patient actor")
)

// InvalidInputError describes a rejected input to a grading operation.
// It matches ErrInvalidInput with errors.Is.
type InvalidInputError struct {
	// Operation names the operation that rejected the input.
	Operation string

	// Reason explains what was wrong with the input.
	Reason string

	// Err is an optional underlying cause, such as ErrMissingCategory.
	Err error
}

// Error implements the error interface for InvalidInputError.
func (e *InvalidInputError) Error() string {
	msg := fmt.Sprintf("invalid input: operation=%s, reason=%s", e.Operation, e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(", err=%v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause when one is set.
func (e *InvalidInputError) Unwrap() error { return e.Err }

// Is reports whether target is ErrInvalidInput so callers can test the
// category without caring about the concrete cause.
func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// NewInvalidInputError creates a new InvalidInputError.
func NewInvalidInputError(operation, reason string, err error) *InvalidInputError {
	return &InvalidInputError{
		Operation: operation,
		Reason:    reason,
		Err:       err,
	}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Is lets a ValidationError satisfy errors.Is(err, ErrInvalidInput).
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// AddErrorf adds a formatted error message to the validation error.
func (e *ValidationError) AddErrorf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// ErrOrNil returns the ValidationError when it holds messages and nil
// otherwise, so validators can end with `return verr.ErrOrNil()`.
func (e *ValidationError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
