package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/testutil/mocks"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrMalformedEvent, http.StatusBadRequest},
		{domain.ErrValidationFailed, http.StatusBadRequest},
		{domain.ErrObligationNotFound, http.StatusNotFound},
		{domain.ErrCompanyInactive, http.StatusUnprocessableEntity},
		{domain.ErrObligationNotChargeable, http.StatusUnprocessableEntity},
		{domain.ErrLockTimeout, http.StatusConflict},
		{domain.ErrInsufficientBalance, http.StatusConflict},
		{domain.ErrProviderError, http.StatusBadGateway},
		{fmt.Errorf("aggregate: %w", domain.ErrLockUnavailable), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestError_HidesInternalErrors(t *testing.T) {
	logger := mocks.NewMockLogger()
	rec := httptest.NewRecorder()

	Error(rec, logger, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.True(t, logger.HasError("request failed"))
}

func TestError_ExposesDomainDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	err := domain.WrapError(domain.ErrorCodeCompanyInactive, "company is not active", nil).WithDetail("company_id", "co_1")

	Error(rec, mocks.NoopLogger{}, fmt.Errorf("run: %w", err))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "COMPANY_INACTIVE", body.Code)
	assert.Equal(t, "co_1", body.Details["company_id"])
}
