package obligation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/services/obligation"
	"github.com/kevin07696/payout-service/internal/testutil/mocks"
	"github.com/kevin07696/payout-service/pkg/resilience"
)

const testToken = "internal-token"

type mockService struct{ mock.Mock }

func (m *mockService) Create(ctx context.Context, req obligation.CreateObligationRequest) (*domain.Obligation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Obligation), args.Error(1)
}

func (m *mockService) Approve(ctx context.Context, id, approverID string) (*obligation.ApprovalResult, error) {
	args := m.Called(ctx, id, approverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*obligation.ApprovalResult), args.Error(1)
}

func (m *mockService) Reject(ctx context.Context, id, reason string) (*obligation.ApprovalResult, error) {
	args := m.Called(ctx, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*obligation.ApprovalResult), args.Error(1)
}

func (m *mockService) ReleaseRetention(ctx context.Context, id string) (*domain.Obligation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Obligation), args.Error(1)
}

func (m *mockService) Get(ctx context.Context, id string) (*domain.Obligation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Obligation), args.Error(1)
}

func (m *mockService) ListByCompany(ctx context.Context, companyID string, filter ports.ObligationFilter) ([]*domain.Obligation, error) {
	args := m.Called(ctx, companyID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Obligation), args.Error(1)
}

func newRouter(svc Service) http.Handler {
	h := NewHandler(svc, resilience.DefaultTimeoutConfig(), mocks.NoopLogger{}, testToken)
	r := chi.NewRouter()
	r.Route("/api/v1/obligations", h.Routes)
	r.With(h.Authenticate).Get("/api/v1/companies/{companyID}/obligations", h.ListByCompany)
	return r
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(TokenHeader, testToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate_RejectsMissingToken(t *testing.T) {
	svc := new(mockService)
	router := newRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/obligations/obl_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestCreate_Invoice(t *testing.T) {
	svc := new(mockService)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.On("Create", mock.Anything, mock.MatchedBy(func(req obligation.CreateObligationRequest) bool {
		return req.Kind == domain.ObligationKindInvoice &&
			req.GrossAmountCents == 100000 &&
			req.Invoice != nil && req.Invoice.InvoiceNumber == "INV-7" &&
			req.ObligationDate.Equal(date)
	})).Return(&domain.Obligation{ID: "obl_1", State: domain.ObligationStateReceived}, nil)

	rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations", `{
		"company_id": "co_1",
		"payee_id": "payee_1",
		"kind": "invoice",
		"gross_amount_cents": 100000,
		"obligation_date": "2024-03-01T00:00:00Z",
		"invoice": {"invoice_number": "INV-7", "equity_percent": 40}
	}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"obl_1"`)
	svc.AssertExpectations(t)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"company_id":`},
		{"unknown kind", `{"company_id":"co_1","payee_id":"p","kind":"gift","gross_amount_cents":100}`},
		{"zero amount", `{"company_id":"co_1","payee_id":"p","kind":"dividend","gross_amount_cents":0,"dividend":{}}`},
		{"missing invoice payload", `{"company_id":"co_1","payee_id":"p","kind":"invoice","gross_amount_cents":100}`},
		{"missing company", `{"payee_id":"p","kind":"dividend","gross_amount_cents":100,"dividend":{}}`},
		{"bad id", `{"id":"x","company_id":"co_1","payee_id":"p","kind":"dividend","gross_amount_cents":100,"dividend":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_MapsServiceErrors(t *testing.T) {
	svc := new(mockService)
	svc.On("Create", mock.Anything, mock.Anything).Return(nil, domain.ErrCompanyNotFound)

	rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations",
		`{"company_id":"co_x","payee_id":"p","kind":"dividend","gross_amount_cents":100,"dividend":{}}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprove(t *testing.T) {
	svc := new(mockService)
	svc.On("Approve", mock.Anything, "obl_1", "user_9").Return(&obligation.ApprovalResult{
		Obligation: &domain.Obligation{ID: "obl_1", State: domain.ObligationStateApproved},
		Changed:    true,
	}, nil)

	rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations/obl_1/approve", `{"approver_id":"user_9"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"changed":true`)
	assert.Contains(t, rec.Body.String(), `"approved"`)
}

func TestApprove_RequiresApprover(t *testing.T) {
	svc := new(mockService)

	rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations/obl_1/approve", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReject_InvalidTransition(t *testing.T) {
	svc := new(mockService)
	svc.On("Reject", mock.Anything, "obl_1", "duplicate invoice").Return(nil, domain.ErrInvalidTransition)

	rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations/obl_1/reject", `{"reason":"duplicate invoice"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.ErrorCodeInvalidTransition))
}

func TestRelease(t *testing.T) {
	svc := new(mockService)
	svc.On("ReleaseRetention", mock.Anything, "obl_1").Return(&domain.Obligation{ID: "obl_1", State: domain.ObligationStateApproved}, nil)

	rec := do(newRouter(svc), http.MethodPost, "/api/v1/obligations/obl_1/release", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGet_NotFound(t *testing.T) {
	svc := new(mockService)
	svc.On("Get", mock.Anything, "obl_404").Return(nil, domain.ErrObligationNotFound)

	rec := do(newRouter(svc), http.MethodGet, "/api/v1/obligations/obl_404", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListByCompany_ParsesFilter(t *testing.T) {
	svc := new(mockService)
	kind := domain.ObligationKindInvoice
	state := domain.ObligationStateRetained
	svc.On("ListByCompany", mock.Anything, "co_1", ports.ObligationFilter{Kind: &kind, State: &state, Limit: 10, Offset: 20}).
		Return([]*domain.Obligation{{ID: "obl_1"}}, nil)

	rec := do(newRouter(svc), http.MethodGet, "/api/v1/companies/co_1/obligations?kind=invoice&state=retained&limit=10&offset=20", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"obl_1"`)
	svc.AssertExpectations(t)
}

func TestListByCompany_RejectsBadQuery(t *testing.T) {
	svc := new(mockService)
	router := newRouter(svc)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/companies/co_1/obligations?kind=gift", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/companies/co_1/obligations?limit=-1", "").Code)
}
