package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents internal error codes for sync operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Terminal errors - surfaced immediately, never retried
	ErrCodeNotAvailable     ErrorCode = 1000
	ErrCodeRecordNotFound   ErrorCode = 1001
	ErrCodePermissionDenied ErrorCode = 1002
	ErrCodeQuotaExceeded    ErrorCode = 1003
	ErrCodeRetryLimit       ErrorCode = 1004
	ErrCodeTimeout          ErrorCode = 1005

	// Recoverable errors - eligible for the offline queue and backoff retry
	ErrCodeNetworkUnavailable ErrorCode = 2000
	ErrCodeServerError        ErrorCode = 2001
	ErrCodeConflict           ErrorCode = 2002

	// Token errors - originate from local anti-replay logic, never retried
	ErrCodeTokenAlreadyUsed ErrorCode = 3000
	ErrCodeTokenTooSoon     ErrorCode = 3001
	ErrCodeRecentlyLeft     ErrorCode = 3002
)

// SyncError represents a structured error with code and context
type SyncError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewSyncError creates a new SyncError
func NewSyncError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *SyncError) WithDetail(key string, value interface{}) *SyncError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func NotAvailable(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeNotAvailable, message, cause)
}

func RecordNotFound(recordType, id string) *SyncError {
	return NewSyncError(ErrCodeRecordNotFound, fmt.Sprintf("record not found: %s/%s", recordType, id), nil).
		WithDetail("record_type", recordType).
		WithDetail("record_id", id)
}

func PermissionDenied(message string) *SyncError {
	return NewSyncError(ErrCodePermissionDenied, message, nil)
}

func NetworkUnavailable(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeNetworkUnavailable, message, cause)
}

func QuotaExceeded(message string) *SyncError {
	return NewSyncError(ErrCodeQuotaExceeded, message, nil)
}

func ServerError(message string, cause error) *SyncError {
	return NewSyncError(ErrCodeServerError, message, cause)
}

func Conflict(message string) *SyncError {
	return NewSyncError(ErrCodeConflict, message, nil)
}

func RetryLimitExceeded(attempts int, cause error) *SyncError {
	return NewSyncError(ErrCodeRetryLimit, fmt.Sprintf("retry limit exceeded after %d attempts", attempts), cause).
		WithDetail("attempts", attempts)
}

func Timeout(message string) *SyncError {
	return NewSyncError(ErrCodeTimeout, message, nil)
}

func TokenAlreadyUsed(tokenID string) *SyncError {
	return NewSyncError(ErrCodeTokenAlreadyUsed, fmt.Sprintf("invitation token already used: %s", tokenID), nil).
		WithDetail("token_id", tokenID)
}

func TokenTooSoon(tokenID string) *SyncError {
	return NewSyncError(ErrCodeTokenTooSoon, fmt.Sprintf("invitation token consumed too recently: %s", tokenID), nil).
		WithDetail("token_id", tokenID)
}

func RecentlyLeft(userID, suiteID string) *SyncError {
	return NewSyncError(ErrCodeRecentlyLeft, fmt.Sprintf("user %s accessed suite %s too recently", userID, suiteID), nil).
		WithDetail("user_id", userID).
		WithDetail("suite_id", suiteID)
}

// IsSyncError checks if an error is a SyncError
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// Cause returns the underlying cause of a SyncError, or the error itself
// when there is none.
func Cause(err error) error {
	var se *SyncError
	if errors.As(err, &se) && se.Cause != nil {
		return se.Cause
	}
	return err
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeServerError
}

// IsRecoverable reports whether an error is transient and eligible for
// retry through the backoff helper or the offline queue. Token errors
// and permission failures are terminal regardless of their origin.
func IsRecoverable(err error) bool {
	switch GetCode(err) {
	case ErrCodeNetworkUnavailable, ErrCodeServerError, ErrCodeConflict:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether an error is a RecordNotFound error.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeRecordNotFound
}

// IsPermissionDenied reports whether an error is a PermissionDenied error.
func IsPermissionDenied(err error) bool {
	return GetCode(err) == ErrCodePermissionDenied
}
