package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Lookup Errors (*_NOT_FOUND)
	ErrorCodeObligationNotFound ErrorCode = "OBLIGATION_NOT_FOUND"
	ErrorCodeBatchNotFound      ErrorCode = "BATCH_NOT_FOUND"
	ErrorCodePaymentNotFound    ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodeCompanyNotFound    ErrorCode = "COMPANY_NOT_FOUND"
	ErrorCodePayeeNotFound      ErrorCode = "PAYEE_NOT_FOUND"

	// State Machine Errors
	ErrorCodeInvalidTransition       ErrorCode = "INVALID_STATE_TRANSITION"
	ErrorCodeObligationNotChargeable ErrorCode = "OBLIGATION_NOT_CHARGEABLE"

	// Aggregation Errors (fatal)
	ErrorCodeCompanyInactive    ErrorCode = "COMPANY_INACTIVE"
	ErrorCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"

	// Concurrency Errors (LOCK_*)
	ErrorCodeLockTimeout     ErrorCode = "LOCK_TIMEOUT"
	ErrorCodeLockUnavailable ErrorCode = "LOCK_UNAVAILABLE"

	// Provider Errors
	ErrorCodeProviderError       ErrorCode = "PAYMENT_PROVIDER_ERROR"
	ErrorCodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"

	// Webhook Errors
	ErrorCodeMalformedEvent ErrorCode = "MALFORMED_EVENT"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so wrapped copies of a
// sentinel still satisfy errors.Is(err, ErrLockTimeout).
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeObligationNotFound, ErrorCodeBatchNotFound, ErrorCodePaymentNotFound,
		ErrorCodeCompanyNotFound, ErrorCodePayeeNotFound:
		return true
	}
	return false
}

// IsFatal reports errors that abort an aggregation and must not be retried
// without operator intervention.
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrorCodeCompanyInactive, ErrorCodeInvariantViolation, ErrorCodeObligationNotChargeable:
		return true
	}
	return false
}

// IsConcurrencyError reports lock acquisition failures.
func IsConcurrencyError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeLockTimeout || code == ErrorCodeLockUnavailable
}

var (
	ErrObligationNotFound = NewDomainError(ErrorCodeObligationNotFound, "obligation not found")
	ErrBatchNotFound      = NewDomainError(ErrorCodeBatchNotFound, "batch not found")
	ErrPaymentNotFound    = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrCompanyNotFound    = NewDomainError(ErrorCodeCompanyNotFound, "company not found")
	ErrPayeeNotFound      = NewDomainError(ErrorCodePayeeNotFound, "payee not found")

	ErrInvalidTransition       = NewDomainError(ErrorCodeInvalidTransition, "state transition not allowed")
	ErrObligationNotChargeable = NewDomainError(ErrorCodeObligationNotChargeable, "obligation cannot be charged")

	ErrCompanyInactive    = NewDomainError(ErrorCodeCompanyInactive, "company is not active")
	ErrInvariantViolation = NewDomainError(ErrorCodeInvariantViolation, "settlement invariant violated")

	ErrLockTimeout     = NewDomainError(ErrorCodeLockTimeout, "timed out acquiring lock")
	ErrLockUnavailable = NewDomainError(ErrorCodeLockUnavailable, "lock service unavailable")

	ErrProviderError       = NewDomainError(ErrorCodeProviderError, "transfer provider error")
	ErrInsufficientBalance = NewDomainError(ErrorCodeInsufficientBalance, "insufficient platform balance")

	ErrMalformedEvent = NewDomainError(ErrorCodeMalformedEvent, "malformed provider event")

	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
