package types

import "fmt"

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Structural error codes. Structural problems are programmer errors and
// must be fixed before any scheduling attempt.
const (
	ErrCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrMissingNode        ErrorCode = "MISSING_NODE"
	ErrInvalidGraph       ErrorCode = "INVALID_GRAPH"
)

// Scheduling and execution error codes.
const (
	ErrResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrNodeExecution     ErrorCode = "NODE_EXECUTION_FAILED"
	ErrNodeTimeout       ErrorCode = "NODE_TIMEOUT"
)

// Phase lifecycle error codes.
const (
	ErrPhaseValidation    ErrorCode = "PHASE_VALIDATION"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrWorkflowCancelled  ErrorCode = "WORKFLOW_CANCELLED"
	ErrCheckpointConflict ErrorCode = "CHECKPOINT_CONFLICT"
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrAgentMissing       ErrorCode = "AGENT_MISSING"
)

// Observability and approval error codes.
const (
	ErrCallbackFailure ErrorCode = "CALLBACK_FAILURE"
	ErrApprovalTimeout ErrorCode = "APPROVAL_TIMEOUT"
	ErrApprovalClosed  ErrorCode = "APPROVAL_CLOSED"
)

// Generic error codes.
const (
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrSerialization ErrorCode = "SERIALIZATION"
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
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
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code, unwrapping
// nested causes until a typed *Error is found.
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
