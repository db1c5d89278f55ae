// Package errors provides structured error handling for netpool.
//
// Every failure surfaced by the pool carries an ErrorType so callers can
// branch on the kind of failure without string matching:
//
//	conn, err := provider.Acquire(ctx, cfg, obs, remote, resolver)
//	if errors.Is(err, poolerrors.ErrPendingAcquireTimeout) {
//	    // back off, the pool is saturated
//	}
//
// Errors capture the call stack at creation and keep the wrapped cause, so
// the standard library errors.Is and errors.As see through them.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents a nil or missing required input
	ErrorTypeValidation ErrorType = "invalid_argument"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents transport level connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypePoolClosed is returned by a disposed pool
	ErrorTypePoolClosed ErrorType = "pool_closed"
	// ErrorTypePendingAcquireOverflow is returned when the pending queue is full
	ErrorTypePendingAcquireOverflow ErrorType = "pending_acquire_overflow"
	// ErrorTypePendingAcquireTimeout is returned when a pending acquire expires
	ErrorTypePendingAcquireTimeout ErrorType = "pending_acquire_timeout"
	// ErrorTypeAllocation wraps a connector failure while allocating
	ErrorTypeAllocation ErrorType = "allocation_failed"
	// ErrorTypeAcquire is returned when an acquire fails after its liveness retry
	ErrorTypeAcquire ErrorType = "acquire_failed"
	// ErrorTypeChannel wraps an error raised by a channel pipeline
	ErrorTypeChannel ErrorType = "channel"
)

// Sentinels for use with errors.Is. They match any *Error of the same type.
var (
	ErrInvalidArgument        = sentinel(ErrorTypeValidation)
	ErrPoolClosed             = sentinel(ErrorTypePoolClosed)
	ErrPendingAcquireOverflow = sentinel(ErrorTypePendingAcquireOverflow)
	ErrPendingAcquireTimeout  = sentinel(ErrorTypePendingAcquireTimeout)
	ErrAllocationFailed       = sentinel(ErrorTypeAllocation)
	ErrAcquireFailed          = sentinel(ErrorTypeAcquire)
	ErrChannel                = sentinel(ErrorTypeChannel)
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame

	sentinel bool
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels of the same type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || !t.sentinel {
		return false
	}
	return t.Type == e.Type
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) && !existingErr.sentinel {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is retryable.
// Saturation and transport failures are worth retrying; a closed pool or a
// rejected argument is not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypePendingAcquireTimeout, ErrorTypePendingAcquireOverflow,
		ErrorTypeConnection, ErrorTypeAllocation:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

func sentinel(errType ErrorType) *Error {
	return &Error{Type: errType, Message: string(errType), sentinel: true}
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
