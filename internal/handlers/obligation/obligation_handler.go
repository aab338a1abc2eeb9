package obligation

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/handlers/response"
	"github.com/kevin07696/payout-service/internal/services/obligation"
	"github.com/kevin07696/payout-service/pkg/resilience"
)

// TokenHeader carries the shared token of internal collaborators
const TokenHeader = "X-Internal-Token"

// Service is the obligation workflow used by the handler
type Service interface {
	Create(ctx context.Context, req obligation.CreateObligationRequest) (*domain.Obligation, error)
	Approve(ctx context.Context, id, approverID string) (*obligation.ApprovalResult, error)
	Reject(ctx context.Context, id, reason string) (*obligation.ApprovalResult, error)
	ReleaseRetention(ctx context.Context, id string) (*domain.Obligation, error)
	Get(ctx context.Context, id string) (*domain.Obligation, error)
	ListByCompany(ctx context.Context, companyID string, filter ports.ObligationFilter) ([]*domain.Obligation, error)
}

// Handler serves the collaborator-facing obligation API
type Handler struct {
	service  Service
	validate *validator.Validate
	timeouts *resilience.TimeoutConfig
	logger   ports.Logger
	token    string
}

// NewHandler creates a new obligation handler
func NewHandler(service Service, timeouts *resilience.TimeoutConfig, logger ports.Logger, token string) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		timeouts: timeouts,
		logger:   logger,
		token:    token,
	}
}

// CreateRequest is the body of POST /api/v1/obligations
type CreateRequest struct {
	ObligationDate    *time.Time              `json:"obligation_date"`
	Invoice           *domain.InvoiceDetails  `json:"invoice" validate:"required_if=Kind invoice"`
	Dividend          *domain.DividendDetails `json:"dividend" validate:"required_if=Kind dividend"`
	Buyback           *domain.BuybackDetails  `json:"buyback" validate:"required_if=Kind equity_buyback"`
	ID                string                  `json:"id" validate:"omitempty,uuid"`
	CompanyID         string                  `json:"company_id" validate:"required"`
	PayeeID           string                  `json:"payee_id" validate:"required"`
	Kind              domain.ObligationKind   `json:"kind" validate:"required,oneof=invoice dividend equity_buyback"`
	GrossAmountCents  int64                   `json:"gross_amount_cents" validate:"gt=0"`
	RequiredApprovals int                     `json:"required_approvals" validate:"gte=0"`
}

// ApproveRequest is the body of POST /api/v1/obligations/{id}/approve
type ApproveRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
}

// RejectRequest is the body of POST /api/v1/obligations/{id}/reject
type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type approvalResponse struct {
	Obligation *domain.Obligation `json:"obligation"`
	Changed    bool               `json:"changed"`
}

// Routes mounts the API under the caller's router
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.Authenticate)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/release", h.Release)
}

// Create handles POST /api/v1/obligations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := obligation.CreateObligationRequest{
		ID:                req.ID,
		CompanyID:         req.CompanyID,
		PayeeID:           req.PayeeID,
		Kind:              req.Kind,
		GrossAmountCents:  req.GrossAmountCents,
		RequiredApprovals: req.RequiredApprovals,
		Invoice:           req.Invoice,
		Dividend:          req.Dividend,
		Buyback:           req.Buyback,
	}
	if req.ObligationDate != nil {
		in.ObligationDate = *req.ObligationDate
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	o, err := h.service.Create(ctx, in)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusCreated, o)
}

// Get handles GET /api/v1/obligations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	o, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusOK, o)
}

// Approve handles POST /api/v1/obligations/{id}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	res, err := h.service.Approve(ctx, chi.URLParam(r, "id"), req.ApproverID)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusOK, approvalResponse{Obligation: res.Obligation, Changed: res.Changed})
}

// Reject handles POST /api/v1/obligations/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	res, err := h.service.Reject(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusOK, approvalResponse{Obligation: res.Obligation, Changed: res.Changed})
}

// Release handles POST /api/v1/obligations/{id}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	o, err := h.service.ReleaseRetention(ctx, chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusOK, o)
}

// ListByCompany handles GET /api/v1/companies/{companyID}/obligations
func (h *Handler) ListByCompany(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter ports.ObligationFilter

	if v := q.Get("kind"); v != "" {
		kind := domain.ObligationKind(v)
		if !kind.IsValid() {
			response.Message(w, h.logger, http.StatusBadRequest, "unknown kind "+v)
			return
		}
		filter.Kind = &kind
	}
	if v := q.Get("state"); v != "" {
		state := domain.ObligationState(v)
		filter.State = &state
	}
	for name, dst := range map[string]*int32{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			response.Message(w, h.logger, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = int32(n)
	}

	ctx, cancel := h.timeouts.HandlerContext(r.Context())
	defer cancel()

	list, err := h.service.ListByCompany(ctx, chi.URLParam(r, "companyID"), filter)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusOK, map[string]interface{}{"obligations": list})
}

// Authenticate rejects requests without the internal token
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			h.logger.Warn("unauthorized api request", ports.String("path", r.URL.Path))
			response.Message(w, h.logger, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		response.Error(w, h.logger, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid JSON body", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		response.Error(w, h.logger, err)
		return false
	}
	return true
}
