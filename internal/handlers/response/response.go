// Package response writes JSON bodies and maps domain errors to HTTP statuses
// for every handler package.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, logger ports.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", ports.Err(err))
	}
}

// Message writes a plain error message without a domain code
func Message(w http.ResponseWriter, logger ports.Logger, status int, msg string) {
	JSON(w, logger, status, ErrorBody{Error: msg})
}

// Error maps err to a status and writes it. Internal errors are logged and
// their text is not exposed.
func Error(w http.ResponseWriter, logger ports.Logger, err error) {
	status := StatusFor(err)

	var de *domain.DomainError
	var ve validator.ValidationErrors
	if !errors.As(err, &de) && errors.As(err, &ve) {
		details := make(map[string]interface{}, len(ve))
		for _, fe := range ve {
			details[fe.Field()] = "failed on '" + fe.Tag() + "'"
		}
		JSON(w, logger, http.StatusBadRequest, ErrorBody{
			Error:   "validation failed",
			Code:    string(domain.ErrorCodeValidationFailed),
			Details: details,
		})
		return
	}

	if de == nil || status == http.StatusInternalServerError {
		logger.Error("request failed", ports.Err(err))
		JSON(w, logger, http.StatusInternalServerError, ErrorBody{
			Error: "internal error",
			Code:  string(domain.ErrorCodeInternalError),
		})
		return
	}

	body := ErrorBody{Error: de.Message, Code: string(de.Code)}
	if len(de.Details) > 0 {
		body.Details = de.Details
	}
	JSON(w, logger, status, body)
}

// StatusFor maps a domain error code to its HTTP status
func StatusFor(err error) int {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}

	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeMalformedEvent, domain.ErrorCodeValidationFailed:
		return http.StatusBadRequest
	case domain.ErrorCodeObligationNotFound, domain.ErrorCodeBatchNotFound, domain.ErrorCodePaymentNotFound,
		domain.ErrorCodeCompanyNotFound, domain.ErrorCodePayeeNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeCompanyInactive, domain.ErrorCodeObligationNotChargeable, domain.ErrorCodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeLockTimeout, domain.ErrorCodeLockUnavailable, domain.ErrorCodeInsufficientBalance,
		domain.ErrorCodeInvalidTransition:
		return http.StatusConflict
	case domain.ErrorCodeProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
