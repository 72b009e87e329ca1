package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPrompt indicates a prompt name outside the known set
	ErrUnknownPrompt = errors.New("unknown prompt")

	// ErrMissingVariable indicates a required template variable is absent
	ErrMissingVariable = errors.New("missing required variable")

	// ErrMissingRequiredField indicates a required config field is empty
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a config field holds an invalid value
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError wraps a settings validation failure with field context
type ValidationError struct {
	Field string // Dotted field path (e.g. "llm.temperature")
	Err   error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	return fmt.Sprintf("field '%s': %v", e.Field, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
