package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyQuery       = errors.New("empty query")
	ErrEmptyText        = errors.New("empty text")
	ErrInvalidVideo     = errors.New("invalid video")
	ErrInvalidChunk     = errors.New("invalid chunk")
	ErrInvalidMode      = errors.New("invalid search mode")
	ErrInvalidEmbedding = errors.New("invalid embedding dimensionality")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
