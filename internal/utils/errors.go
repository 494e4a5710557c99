package utils

import (
	"errors"
	"fmt"
)

// ValidationError marks a request rejected before any venue work happened.
// Handlers map it to HTTP 400. Field names the offending request parameter
// when one can be singled out.
type ValidationError struct {
	Field   string
	Message string
}

// Error renders "field: message" when a field is attributed, otherwise just
// the message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError builds a ValidationError without a field attribution.
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// NewValidationErrorf builds a ValidationError from a format string.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NewFieldError builds a ValidationError attributed to one request field.
func NewFieldError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
