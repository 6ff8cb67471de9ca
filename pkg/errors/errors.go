package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes shared by the service layer and the HTTP error renderer.
const (
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeNotFoundOrForbidden  = "NOT_FOUND_OR_FORBIDDEN"
	CodeGenerationFailure    = "GENERATION_FAILURE"
	CodeTranscriptionFailure = "TRANSCRIPTION_FAILURE"
	CodeSynthesisFailure     = "SYNTHESIS_FAILURE"
	CodeStoreFailure         = "STORE_FAILURE"
	CodeFeatureLocked        = "FEATURE_LOCKED"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	Cause      error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithCause attaches the underlying error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewForbiddenError creates a 403 Forbidden error
func NewForbiddenError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(code string, message string) *AppError {
	return NewError(http.StatusConflict, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// NewUnauthenticatedError reports a call made without an identity
func NewUnauthenticatedError(message string) *AppError {
	return NewUnauthorizedError(CodeUnauthenticated, message)
}

// NewInvalidArgumentError reports a missing or malformed field
func NewInvalidArgumentError(message string) *AppError {
	return NewBadRequestError(CodeInvalidArgument, message)
}

// NewNotFoundOrForbiddenError is returned both when an entity is missing and
// when the caller does not own it.
func NewNotFoundOrForbiddenError(message string) *AppError {
	return NewNotFoundError(CodeNotFoundOrForbidden, message)
}

// NewGenerationError wraps a failed text generation call
func NewGenerationError(cause error) *AppError {
	return NewError(http.StatusBadGateway, CodeGenerationFailure, "text generation failed").WithCause(cause)
}

// NewTranscriptionError wraps a failed speech-to-text call
func NewTranscriptionError(cause error) *AppError {
	return NewError(http.StatusBadGateway, CodeTranscriptionFailure, "speech transcription failed").WithCause(cause)
}

// NewSynthesisError wraps a failed text-to-speech call
func NewSynthesisError(cause error) *AppError {
	return NewError(http.StatusBadGateway, CodeSynthesisFailure, "speech synthesis failed").WithCause(cause)
}

// NewStoreError wraps a rejected persistence call
func NewStoreError(message string, cause error) *AppError {
	return NewInternalServerError(CodeStoreFailure, message).WithCause(cause)
}

// NewFeatureLockedError reports a capability the caller's plan does not include
func NewFeatureLockedError(feature string) *AppError {
	return NewForbiddenError(CodeFeatureLocked, "your plan does not include this feature").
		WithDetails(map[string]string{"feature": feature})
}

// Is checks if err carries the same code as target anywhere in its chain
func Is(err error, target *AppError) bool {
	if target == nil {
		return false
	}
	return HasCode(err, target.Code)
}

// HasCode reports whether err, or an error it wraps, is an AppError with code
func HasCode(err error, code string) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	if appErr.Code == code {
		return true
	}
	return appErr.Cause != nil && HasCode(appErr.Cause, code)
}
