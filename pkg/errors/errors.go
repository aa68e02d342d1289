package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies errors raised during an export run
type ErrorType string

const (
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeSessionExpired  ErrorType = "session_expired"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeParsing         ErrorType = "parsing"
	ErrorTypePaginationStall ErrorType = "pagination_stall"
	ErrorTypeLinkIntegrity   ErrorType = "link_integrity"
	ErrorTypeExportAssembly  ErrorType = "export_assembly"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// Error represents a typed yalje error, optionally carrying the HTTP status
// code that produced it and a wrapped cause.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Newf creates a typed error with a formatted message
func Newf(errorType ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: errorType, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error wrapping an underlying cause
func Wrap(errorType ErrorType, message string, err error) *Error {
	return &Error{Type: errorType, Message: message, Err: err}
}

// WithCode creates a typed error carrying an HTTP status code
func WithCode(errorType ErrorType, message string, code int) *Error {
	return &Error{Type: errorType, Message: message, Code: code}
}

// TypeOf returns the ErrorType of err, or ErrorTypeUnknown if err is not a
// typed yalje error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err is (or wraps) a typed error of the given type
func IsType(err error, errorType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500
	}
}
