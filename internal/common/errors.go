// Package common defines sentinel errors and error types shared by the
// repositories, the item entity and its collaborators. Callers should use
// errors.Is / errors.As to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Caller misused the object protocol (missing identity, gaps in creator
	// indexes, setting identity after load). Not expected to be retried.
	ErrContract = errors.New("contract violation")

	// Input errors: unknown item type, unknown field, field not valid for type.
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidField = errors.New("invalid field")

	// Validation errors surfaced to users.
	ErrValidation  = errors.New("validation error")
	ErrDataTooLong = errors.New("data too long")

	// Edit permission errors.
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")
)

// ContractError describes a programming error in how an item was driven.
type ContractError struct {
	Op  string
	Msg string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ContractError) Unwrap() error { return ErrContract }

// Contractf builds a *ContractError for op.
func Contractf(op, format string, args ...any) error {
	return &ContractError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ValidationError carries the user-facing field label and a truncated value.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s field '%s...' too long", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}
