// Package errors provides standardized error handling for the recovery engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Request / state validation
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeStateConflict    ErrorCode = "STATE_CONFLICT"

	// Webhook ingestion
	ErrCodeSignatureInvalid ErrorCode = "SIGNATURE_INVALID"
	ErrCodeDuplicateEvent   ErrorCode = "DUPLICATE_EVENT"

	// Lookups
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeLinkExpired      ErrorCode = "LINK_EXPIRED"
	ErrCodeLinkUsed         ErrorCode = "LINK_USED"

	// Authorization on operator endpoints
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Infrastructure
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeTaskNotRegistered        ErrorCode = "TASK_NOT_REGISTERED"
	ErrCodeSchedulingFailed         ErrorCode = "SCHEDULING_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable validation error. Malformed
// timestamps and bad state-transition requests land here and are never
// retried.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStateConflictError creates a non-retryable error for an operation that
// is illegal in the attempt's current lifecycle state.
func NewStateConflictError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateConflict,
		Message:   "Operation not allowed in current state",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSignatureInvalidError creates a non-retryable webhook authentication
// error. No side effects may occur after this is returned.
func NewSignatureInvalidError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSignatureInvalid,
		Message:   "Webhook signature verification failed",
		Details:   fmt.Sprintf("provider: %s", provider),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDuplicateEventError marks an idempotent replay. Callers treat this as
// a successful no-op, not a failure.
func NewDuplicateEventError(eventKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateEvent,
		Message:   "Event already processed",
		Details:   fmt.Sprintf("eventKey: %s", eventKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewResourceNotFoundError creates a non-retryable not-found error. Unknown
// tokens and transactions are a normal user-facing path and are surfaced as
// typed results, not panics.
func NewResourceNotFoundError(resource, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeResourceNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLinkExpiredError reports a recovery link past its deadline.
func NewLinkExpiredError(token string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLinkExpired,
		Message:   "Recovery link has expired",
		Details:   fmt.Sprintf("token: %s", token),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLinkUsedError reports a recovery link that was already consumed.
func NewLinkUsedError(token string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLinkUsed,
		Message:   "Recovery link already used",
		Details:   fmt.Sprintf("token: %s", token),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnauthorizedError creates a non-retryable authorization error.
func NewUnauthorizedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnauthorized,
		Message:   "Authorization failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable provider send error.
// The queue records it on the job; only the domain layer decides whether a
// new send is scheduled.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskNotRegisteredError reports a job whose task name has no handler.
func NewTaskNotRegisteredError(taskName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskNotRegistered,
		Message:   "No handler registered for task",
		Details:   fmt.Sprintf("taskName: %s", taskName),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchedulingFailedError reports a failure to enqueue downstream jobs.
// The webhook is still acknowledged; the error is logged for operator
// follow-up.
func NewSchedulingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchedulingFailed,
		Message:   "Failed to schedule notification jobs",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsCode checks whether err is a StandardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsRetryable reports whether the error is marked retryable.
func IsRetryable(err error) bool {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsDuplicateEvent reports an idempotent webhook replay.
func IsDuplicateEvent(err error) bool {
	return IsCode(err, ErrCodeDuplicateEvent)
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SIGNATURE") || strings.Contains(codeStr, "UNAUTHORIZED"):
		return "AUTH"
	case strings.Contains(codeStr, "LINK") || strings.Contains(codeStr, "NOT_FOUND"):
		return "LOOKUP"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "SCHEDULING"):
		return "DELIVERY"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "CONFLICT"):
		return "VALIDATION"
	case strings.Contains(codeStr, "DUPLICATE"):
		return "IDEMPOTENCY"
	default:
		return "OTHER"
	}
}
