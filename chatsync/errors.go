package chatsync

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	// Request errors (server rejected a REST call or protocol frame)
	ErrorUnknown ErrorCode = iota
	ErrorUnauthorized
	ErrorForbidden
	ErrorBadRequest
	ErrorNotFound
	ErrorRateLimited
	ErrorInternalServer
	ErrorRequestRejected

	// Client-side errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorInvalidConfig
	ErrorNotConnected
	ErrorSerialization

	// Sync errors
	ErrorInvalidMessage
	ErrorUnknownRoom
	ErrorUnknownMessage
	ErrorRolledBack
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorForbidden:
		return "forbidden"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorNotFound:
		return "not_found"
	case ErrorRateLimited:
		return "rate_limited"
	case ErrorInternalServer:
		return "internal_error"
	case ErrorRequestRejected:
		return "request_rejected"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorUnknownRoom:
		return "unknown_room"
	case ErrorUnknownMessage:
		return "unknown_message"
	case ErrorRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ParseErrorCode converts a protocol error code string to ErrorCode.
func ParseErrorCode(code string) ErrorCode {
	switch code {
	case "unauthorized":
		return ErrorUnauthorized
	case "forbidden", "access_denied":
		return ErrorForbidden
	case "bad_request", "invalid_message":
		return ErrorBadRequest
	case "not_found", "room_not_found":
		return ErrorNotFound
	case "rate_limited":
		return ErrorRateLimited
	case "internal_error":
		return ErrorInternalServer
	default:
		return ErrorUnknown
	}
}

// ChatError is a structured error with code and context.
type ChatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ChatError with the given code and message.
func NewError(code ErrorCode, message string) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a ChatError.
func WrapError(code ErrorCode, message string, err error) *ChatError {
	return &ChatError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// FromProtocolError converts a protocol Error to ChatError.
func FromProtocolError(e *Error) *ChatError {
	if e == nil {
		return nil
	}
	return &ChatError{
		Code:    ParseErrorCode(e.Code),
		Message: e.Msg,
	}
}

// FromHTTPStatus maps a non-success HTTP status to an ErrorCode.
func FromHTTPStatus(status int) ErrorCode {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorUnauthorized
	case status == http.StatusForbidden:
		return ErrorForbidden
	case status == http.StatusNotFound:
		return ErrorNotFound
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrorBadRequest
	case status >= 500:
		return ErrorInternalServer
	default:
		return ErrorRequestRejected
	}
}

// Classify returns the ErrorCode that best describes err. Errors that report
// an HTTP status through a StatusCode method are mapped by status.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrorUnknown
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		return FromHTTPStatus(status.StatusCode())
	}
	return ErrorUnknown
}

// IsRequestError checks if an error is a rejection from the server.
func IsRequestError(err error) bool {
	code := Classify(err)
	return code >= ErrorUnauthorized && code <= ErrorRequestRejected
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	switch Classify(err) {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout, ErrorNotConnected:
		return true
	default:
		return false
	}
}
