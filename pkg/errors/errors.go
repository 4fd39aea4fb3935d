// Package errors defines custom error types and error handling utilities for
// the Gatekeeper admission-control service. It provides structured errors that
// carry a stable code and an HTTP status, so transport layers can map failures
// without inspecting message text.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error classification.
type ErrorCode string

const (
	// ErrCodeInvalidRequest marks a caller-supplied argument violation.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeServerError marks an internal failure.
	ErrCodeServerError ErrorCode = "server_error"

	// ErrCodeRateLimitExceeded marks a denied window-limiter check.
	ErrCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"

	// ErrCodeQuotaExceeded marks a denied quota check.
	ErrCodeQuotaExceeded ErrorCode = "quota_exceeded"

	// ErrCodeStoreUnavailable marks a key-value store failure.
	ErrCodeStoreUnavailable ErrorCode = "store_unavailable"

	// ErrCodeNotFound marks a missing resource.
	ErrCodeNotFound ErrorCode = "not_found"
)

// ================================================================================
// AppError
// ================================================================================

// AppError is a structured application error with code, HTTP status and
// optional context metadata.
type AppError struct {
	code       ErrorCode
	httpStatus int
	message    string
	cause      error
	metadata   map[string]interface{}
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return e.message
}

// Code returns the stable error code.
func (e *AppError) Code() ErrorCode {
	return e.code
}

// HTTPStatus returns the HTTP status the error maps to.
func (e *AppError) HTTPStatus() int {
	return e.httpStatus
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause attaches an underlying error.
func (e *AppError) WithCause(cause error) *AppError {
	e.cause = cause
	return e
}

// WithMetadata attaches a context key-value pair.
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

// Metadata returns all attached metadata.
func (e *AppError) Metadata() map[string]interface{} {
	return e.metadata
}

// NewError creates an AppError with the given code, status and message.
func NewError(code ErrorCode, httpStatus int, message string) *AppError {
	return &AppError{
		code:       code,
		httpStatus: httpStatus,
		message:    message,
	}
}

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error. Validation failures use
// this constructor; these are the only errors the admission services surface
// to their callers.
func ErrInvalidRequest(message string) *AppError {
	return NewError(ErrCodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrServerError creates a server_error error.
func ErrServerError(message string) *AppError {
	return NewError(ErrCodeServerError, http.StatusInternalServerError, message)
}

// ErrStoreUnavailable creates a store_unavailable error.
func ErrStoreUnavailable(cause error) *AppError {
	return NewError(ErrCodeStoreUnavailable, http.StatusServiceUnavailable,
		"key-value store unavailable").WithCause(cause)
}

// ErrNotFound creates a not_found error.
func ErrNotFound(resource string) *AppError {
	return NewError(ErrCodeNotFound, http.StatusNotFound,
		fmt.Sprintf("%s not found", resource))
}

// ErrRateLimitExceeded creates a rate_limit_exceeded error for a caller key.
func ErrRateLimitExceeded(key string, limit int64) *AppError {
	return NewError(ErrCodeRateLimitExceeded, http.StatusTooManyRequests,
		"Rate limit exceeded. Please try again later.").
		WithMetadata("key", key).
		WithMetadata("limit", limit)
}

// ErrQuotaExceeded creates a quota_exceeded error with the denial reason
// reported by the quota tracker.
func ErrQuotaExceeded(key string, reason string) *AppError {
	return NewError(ErrCodeQuotaExceeded, http.StatusTooManyRequests, reason).
		WithMetadata("key", key)
}

// ================================================================================
// Error Validation Utilities
// ================================================================================

// AsAppError attempts to cast an error to *AppError.
func AsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// IsValidationError reports whether an error is a caller-argument validation
// failure.
func IsValidationError(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code() == ErrCodeInvalidRequest
	}
	return false
}

// IsRateLimitError reports whether an error maps to HTTP 429.
func IsRateLimitError(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus() == http.StatusTooManyRequests
	}
	return false
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse is the JSON structure for error responses.
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse, falling back to a
// generic server error for non-AppError values.
func ToErrorResponse(err error) *ErrorResponse {
	if appErr, ok := AsAppError(err); ok {
		return &ErrorResponse{
			Error:            string(appErr.Code()),
			ErrorDescription: appErr.Error(),
			Metadata:         appErr.Metadata(),
		}
	}

	return &ErrorResponse{
		Error:            string(ErrCodeServerError),
		ErrorDescription: "An unexpected error occurred",
	}
}
