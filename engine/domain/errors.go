package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for record validation.
var (
	ErrEmptyTitle   = errors.New("title is empty")
	ErrEmptyContent = errors.New("content is empty")
	ErrEmptyURL     = errors.New("url is empty")
	ErrMissingStory = errors.New("story reference is missing")
)

// ValidationError wraps a sentinel with the record it was raised for.
type ValidationError struct {
	Record  string
	Field   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s.%s: %s", e.Record, e.Field, e.Wrapped)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(record, field string, wrapped error) *ValidationError {
	return &ValidationError{Record: record, Field: field, Wrapped: wrapped}
}
