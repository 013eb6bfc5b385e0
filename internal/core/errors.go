package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidKind     = errors.New("kind must be income or expense")
	ErrEndBeforeAnchor = errors.New("end date must not be before anchor date")
)

// ValidationError reports a malformed template or transaction. It is raised
// before anything is persisted and is safe to show to the caller.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StateConflictError reports an operation that the template's lifecycle state
// does not allow, such as resuming a stopped template.
type StateConflictError struct {
	TemplateID string
	Status     Status
	Op         string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s template %s in status %s", e.Op, e.TemplateID, e.Status)
}

// GenerationFailure wraps a persistence failure while materializing
// occurrences. The batch was rolled back and the watermark is unchanged.
type GenerationFailure struct {
	TemplateID string
	Err        error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generate occurrences for template %s: %v", e.TemplateID, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateConflict reports whether err is, or wraps, a StateConflictError.
func IsStateConflict(err error) bool {
	var se *StateConflictError
	return errors.As(err, &se)
}

// IsGenerationFailure reports whether err is, or wraps, a GenerationFailure.
func IsGenerationFailure(err error) bool {
	var gf *GenerationFailure
	return errors.As(err, &gf)
}
