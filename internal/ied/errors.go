package ied

import (
	"errors"
	"fmt"
)

// Error kinds for the ied package.
//
// Every error returned by the Registry wraps exactly one of these, so
// callers can classify it with errors.Is():
//
//	if errors.Is(err, ied.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrValidation marks malformed input. The caller corrects it and retries.
	ErrValidation = errors.New("ied: validation failed")

	// ErrNotFound marks a reference to a device or dataset that does not exist.
	ErrNotFound = errors.New("ied: not found")

	// ErrConflict marks a duplicate name within a uniqueness scope, or an
	// operation that conflicts with the device's current state.
	ErrConflict = errors.New("ied: conflict")

	// ErrInvalidTransition is returned when an event has no edge from the
	// device's current state. It is also a conflict.
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrConflict)

	// ErrIDTaken is returned by a Repository when an id was issued before.
	ErrIDTaken = errors.New("ied: id already issued")
)

// ValidationError names the first invalid field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ied: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string // "device" or "dataset"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ied: %s %q not found", e.Kind, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError names the uniqueness scope and the colliding name.
type ConflictError struct {
	Scope string
	Name  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ied: %s %q already exists", e.Scope, e.Name)
}

// Unwrap lets errors.Is match ErrConflict.
func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func deviceNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "device", ID: id}
}
