package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind tags an error variant. Callers dispatch on the kind rather than on
// concrete error types.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindVerificationTimeout ErrorKind = "verification_timeout"
	KindProviderStream      ErrorKind = "provider_stream"
	KindTransport           ErrorKind = "transport"
	KindCancelled           ErrorKind = "cancelled"
	KindInternal            ErrorKind = "internal"
)

// Error is the tagged error type shared across the module.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Details    any
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the wire-level error code for this error.
func (e *Error) Code() string {
	switch e.Kind {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindVerificationTimeout:
		return "VERIFY_TIMEOUT"
	case KindProviderStream:
		return "AI_ERROR"
	case KindTransport:
		return "TRANSPORT_ERROR"
	case KindCancelled:
		return "CANCELLED"
	}
	return "INTERNAL_ERROR"
}

// NewValidationError reports malformed or missing input. Never retried.
func NewValidationError(message string, details any) *Error {
	return &Error{Kind: KindValidation, Message: message, StatusCode: http.StatusBadRequest, Details: details}
}

// NewNotFoundError reports a resource absent after lifecycle resolution.
func NewNotFoundError(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found", StatusCode: http.StatusNotFound}
}

// NewVerificationTimeoutError reports that a written record could not be
// confirmed visible within the retry budget. The record itself was written.
func NewVerificationTimeoutError(id string, attempts int) *Error {
	return &Error{
		Kind:       KindVerificationTimeout,
		Message:    fmt.Sprintf("session %s not confirmed readable after %d attempts", id, attempts),
		StatusCode: http.StatusInternalServerError,
	}
}

// NewProviderStreamError reports a failure during active token generation.
// Partial output already delivered is preserved by the caller.
func NewProviderStreamError(err error) *Error {
	return &Error{Kind: KindProviderStream, Message: "Failed to generate response", StatusCode: http.StatusInternalServerError, cause: err}
}

// NewTransportError reports a network-level failure reaching the server.
func NewTransportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: "request failed", StatusCode: http.StatusInternalServerError, cause: err}
}

// NewCancelledError marks an operation abandoned by explicit cancellation.
// Never surfaced to the user as a failure.
func NewCancelledError() *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", StatusCode: http.StatusInternalServerError}
}

// NewInternalError wraps an unexpected infrastructure failure.
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, StatusCode: http.StatusInternalServerError, cause: err}
}

// KindOf returns the kind of err, or KindInternal for untagged errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
