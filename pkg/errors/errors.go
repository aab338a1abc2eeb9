package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of error for handling
type ErrorCategory string

const (
	CategoryInsufficientFunds ErrorCategory = "insufficient_funds"
	CategoryRecipientInvalid  ErrorCategory = "recipient_invalid"
	CategoryUnauthorized      ErrorCategory = "unauthorized"
	CategorySystemError       ErrorCategory = "system_error"
	CategoryNetworkError      ErrorCategory = "network_error"
	CategoryInvalidRequest    ErrorCategory = "invalid_request"
	CategoryCircuitOpen       ErrorCategory = "circuit_open"
)

// PaymentError represents a transfer provider error with detailed context
type PaymentError struct {
	Details         map[string]interface{}
	Code            string
	Message         string
	ProviderMessage string
	Category        ErrorCategory
	StatusCode      int
	IsRetriable     bool
}

func (e *PaymentError) Error() string {
	if e.ProviderMessage != "" {
		return fmt.Sprintf("%s: %s (provider: %s)", e.Code, e.Message, e.ProviderMessage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, category ErrorCategory, retriable bool) *PaymentError {
	return &PaymentError{
		Code:        code,
		Message:     message,
		Category:    category,
		IsRetriable: retriable,
		Details:     make(map[string]interface{}),
	}
}

// AsPaymentError extracts a *PaymentError from an error chain
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
