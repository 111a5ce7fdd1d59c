// Package errors implements the error taxonomy from spec §7: a small set
// of kinds (not Go types) every component surfaces errors through, so
// callers at any boundary (HTTP handler, pipeline step, plugin dispatcher)
// can classify a failure without string-matching messages.
package errors

import (
	"encoding/json"
	"fmt"
)

// Kind is one of the error kinds named in spec §7.
type Kind string

const (
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	KindTimeout            Kind = "TIMEOUT"
	KindTransient          Kind = "TRANSIENT"
	KindFatal              Kind = "FATAL"
	KindInternal           Kind = "INTERNAL"
)

// CompanionError is a structured error carrying a Kind, a human message,
// optional structured details, and an optional wrapped cause.
type CompanionError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface.
func (e *CompanionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the errors.Unwrap interface.
func (e *CompanionError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error and returns it for chaining.
func (e *CompanionError) WithDetail(key string, value interface{}) *CompanionError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON renders the error as JSON, used for the HTTP surface's
// {error, step?} response shape.
func (e *CompanionError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new CompanionError.
func New(kind Kind, message string) *CompanionError {
	return &CompanionError{Kind: kind, Message: message}
}

// Wrap wraps an existing error with a CompanionError.
func Wrap(err error, kind Kind, message string) *CompanionError {
	return &CompanionError{Kind: kind, Message: message, Cause: err}
}

// Is reports whether the first CompanionError in err's unwrap chain is
// of kind; errors wrapped beneath that first CompanionError are not checked.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CompanionError); ok {
		return ce.Kind == kind
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return Is(unwrapper.Unwrap(), kind)
	}
	return false
}

// AsCompanionError returns err as a *CompanionError, wrapping it as
// KindInternal if it isn't already one. Useful at a boundary that must
// report {message, httpStatus} regardless of what an inner call returned.
func AsCompanionError(err error) *CompanionError {
	if ce, ok := err.(*CompanionError); ok {
		return ce
	}
	return Wrap(err, KindInternal, err.Error())
}

// GetKind extracts the Kind from an error, or "" if it is not a CompanionError.
func GetKind(err error) Kind {
	if err == nil {
		return ""
	}
	if ce, ok := err.(*CompanionError); ok {
		return ce.Kind
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return GetKind(unwrapper.Unwrap())
	}
	return ""
}
