// Package domainerrors provides coded domain errors. Services translate
// infrastructure sentinels and invariant failures into these so transport
// layers can map them onto responses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeInternal           Code = "internal_error"
	CodeTimeout            Code = "timeout"

	// State-machine precondition violations on publish/rollback.
	CodeAlreadyActive Code = "already_active"
	CodeNotArchived   Code = "not_archived"

	// Operational gaps surfaced to the validation executor.
	CodeNoActiveRuleset Code = "no_active_ruleset"
	CodeInvalidScope    Code = "invalid_scope"
)

// Error is a domain error with a stable code, a human-readable message, and
// optional structured details (e.g. the full defect list from an upload).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is / errors.As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Add attaches a structured detail to the error and returns it, so callers
// can chain: dErrors.Add(dErrors.New(...), "defects", defects).
func Add(e *Error, key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Load returns a structured detail by key, or nil.
func Load(err error, key string) any {
	var de *Error
	if errors.As(err, &de) && de.Details != nil {
		return de.Details[key]
	}
	return nil
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is delegates to errors.Is; exported here so callers using the dErrors alias
// don't need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }
