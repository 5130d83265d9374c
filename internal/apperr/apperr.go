package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeInvalidStyle       Code = "INVALID_STYLE"
	CodePaymentRequired    Code = "PAYMENT_REQUIRED"
	CodeAvatarNotFound     Code = "AVATAR_NOT_FOUND"
	CodeNoReferenceImages  Code = "NO_REFERENCE_IMAGES"
	CodeNoPromptsAvailable Code = "NO_PROMPTS_AVAILABLE"
	CodeQueueFailed        Code = "QUEUE_FAILED"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
)

// Error is a coded application error that crosses the service/HTTP boundary.
// Details carries structured payload for the response envelope (e.g. image
// rejection reasons, refund outcome on dispatch failure).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetail attaches a structured detail and returns the same error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error code to an HTTP response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidStyle, CodeNoReferenceImages, CodeNoPromptsAvailable:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodePaymentRequired:
		return http.StatusPaymentRequired
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeAvatarNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeQueueFailed, CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an *Error from err, or wraps it as an internal error.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(CodeInternal, "internal error", err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
