package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the library.
type ErrorCode string

// Pipeline error codes
const (
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrQueueFull        ErrorCode = "QUEUE_FULL"
)

// Downstream error codes
const (
	ErrTransport     ErrorCode = "TRANSPORT"
	ErrConnection    ErrorCode = "CONNECTION"
	ErrAPIError      ErrorCode = "API_ERROR"
	ErrRateLimited   ErrorCode = "RATE_LIMITED"
	ErrValidation    ErrorCode = "VALIDATION"
	ErrConfiguration ErrorCode = "CONFIGURATION"
	ErrNamespace     ErrorCode = "NAMESPACE"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Operation string    `json:"operation,omitempty"`
	ItemCount int       `json:"item_count,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
// The retryable flag is derived from the code; override with WithRetryable.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: defaultRetryable(code)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithOperation sets the operation name that produced the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithItemCount sets the number of items affected by the error.
func (e *Error) WithItemCount(n int) *Error {
	e.ItemCount = n
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// defaultRetryable 根据错误码返回默认的可重试标记。
// 传输层与限流类错误默认可重试；校验与配置错误永不重试；
// 熔断拒绝必须立即返回调用方，不消耗重试次数。
func defaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrTransport, ErrConnection, ErrAPIError, ErrRateLimited:
		return true
	default:
		return false
	}
}

// IsRetryable checks if an error carries a retryable marker.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCircuitOpen reports whether the error is a local circuit-breaker rejection.
func IsCircuitOpen(err error) bool {
	return GetErrorCode(err) == ErrCircuitOpen
}

// IsQueueFull reports whether the error is a bounded-queue rejection.
func IsQueueFull(err error) bool {
	return GetErrorCode(err) == ErrQueueFull
}
