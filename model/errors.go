package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
	ErrDependencyError = "DEPENDENCY_ERROR"
)

// Approval-specific error codes.
const (
	ErrPermissionDenied = "PERMISSION_DENIED"
	ErrNoActiveStep     = "NO_ACTIVE_WORKFLOW_STEP"
	ErrWorkflowComplete = "WORKFLOW_ALREADY_COMPLETE"
	ErrNotRejected      = "NOT_REJECTED"
	ErrNotBrandAdmin    = "NOT_BRAND_ADMIN"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode returns the envelope code of err, or INTERNAL_ERROR when err is
// not an *ErrorEnvelope.
func ErrorCode(err error) string {
	if ee, ok := err.(*ErrorEnvelope); ok {
		return ee.Code
	}
	return ErrInternalError
}

// IsConflict reports whether err is the retryable concurrency-loss outcome.
// Every other envelope code is a final answer for the given input.
func IsConflict(err error) bool {
	return ErrorCode(err) == ErrConflict
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error. Conflicts are safe to retry:
// the engine re-evaluates live state on every call.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewPermissionDeniedError returns a PERMISSION_DENIED error. The message
// states precisely why the actor was disqualified so the caller knows the
// correct next action.
func NewPermissionDeniedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrPermissionDenied, Message: msg}
}

// NewNoActiveStepError returns a NO_ACTIVE_WORKFLOW_STEP error.
func NewNoActiveStepError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNoActiveStep, Message: msg}
}

// NewWorkflowCompleteError returns a WORKFLOW_ALREADY_COMPLETE error.
func NewWorkflowCompleteError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrWorkflowComplete, Message: msg}
}

// NewNotRejectedError returns a NOT_REJECTED error.
func NewNotRejectedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotRejected, Message: msg}
}

// NewNotBrandAdminError returns a NOT_BRAND_ADMIN error.
func NewNotBrandAdminError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotBrandAdmin, Message: msg}
}

// NewDependencyError returns a DEPENDENCY_ERROR wrapping a store or
// downstream failure. Never swallowed, never retried automatically.
func NewDependencyError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDependencyError, Message: msg}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}
