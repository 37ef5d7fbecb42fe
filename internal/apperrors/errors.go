// Package apperrors provides typed errors for the management boundary with
// errors.Is classification and HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

// Error carries a sentinel plus human-readable context.
type Error struct {
	Sentinel error
	Message  string
	Field    string // for validation errors
	Resource string // for not-found errors
}

func (e *Error) Error() string { return e.Message }

// Unwrap returns the sentinel so errors.Is(err, ErrValidation) works.
func (e *Error) Unwrap() error { return e.Sentinel }

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{Sentinel: ErrValidation, Message: message, Field: field}
}

// NotFound creates a not-found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}
