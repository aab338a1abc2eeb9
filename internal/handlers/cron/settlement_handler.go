package cron

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/internal/handlers/response"
	"github.com/kevin07696/payout-service/internal/services/notification"
	"github.com/kevin07696/payout-service/internal/services/payout"
	"github.com/kevin07696/payout-service/internal/services/settlement"
	"github.com/kevin07696/payout-service/pkg/resilience"
)

// Aggregator creates company batches
type Aggregator interface {
	Run(ctx context.Context, req settlement.AggregateRequest) (*settlement.AggregateResult, error)
	RunAll(ctx context.Context) ([]settlement.CompanyRun, error)
}

// Executor pays batches and non-batched obligations
type Executor interface {
	Execute(ctx context.Context, target payout.PaymentTarget) (*payout.ExecutionResult, error)
	ExecuteBatch(ctx context.Context, batchID string) ([]payout.PayeeRun, error)
	ExecuteAwaiting(ctx context.Context) (map[string][]payout.PayeeRun, error)
}

// Drainer delivers pending notifications
type Drainer interface {
	DrainOnce(ctx context.Context) (notification.DrainStats, error)
}

// SettlementHandler exposes the scheduler-triggered settlement jobs
type SettlementHandler struct {
	aggregator Aggregator
	executor   Executor
	drainer    Drainer
	validate   *validator.Validate
	timeouts   *resilience.TimeoutConfig
	logger     ports.Logger
	cronSecret string
}

// NewSettlementHandler creates a new settlement cron handler
func NewSettlementHandler(
	aggregator Aggregator,
	executor Executor,
	drainer Drainer,
	timeouts *resilience.TimeoutConfig,
	logger ports.Logger,
	cronSecret string,
) *SettlementHandler {
	return &SettlementHandler{
		aggregator: aggregator,
		executor:   executor,
		drainer:    drainer,
		validate:   validator.New(),
		timeouts:   timeouts,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// AggregateRequest is the body of POST /cron/aggregate. An empty company
// sweeps every active company.
type AggregateRequest struct {
	CompanyID     string   `json:"company_id"`
	ObligationIDs []string `json:"obligation_ids" validate:"omitempty,dive,uuid"`
}

// ExecuteRequest is the body of POST /cron/execute. A batch id pays that
// batch; a payee target pays non-batched obligations; an empty body sweeps
// batches awaiting payout.
type ExecuteRequest struct {
	BatchID       string   `json:"batch_id"`
	CompanyID     string   `json:"company_id" validate:"required_with=PayeeID"`
	PayeeID       string   `json:"payee_id" validate:"required_with=CompanyID"`
	ObligationIDs []string `json:"obligation_ids" validate:"required_with=PayeeID,dive,required"`
}

type companyRunResponse struct {
	Result    *settlement.AggregateResult `json:"result,omitempty"`
	CompanyID string                      `json:"company_id"`
	Error     string                      `json:"error,omitempty"`
}

type payeeRunResponse struct {
	Result  *payout.ExecutionResult `json:"result,omitempty"`
	PayeeID string                  `json:"payee_id"`
	Error   string                  `json:"error,omitempty"`
}

// Aggregate handles POST /cron/aggregate
func (h *SettlementHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CompanyID == "" && len(req.ObligationIDs) > 0 {
		response.Message(w, h.logger, http.StatusBadRequest, "obligation_ids require company_id")
		return
	}

	ctx, cancel := h.timeouts.CronContext(r.Context())
	defer cancel()

	if req.CompanyID != "" {
		res, err := h.aggregator.Run(ctx, settlement.AggregateRequest{CompanyID: req.CompanyID, ObligationIDs: req.ObligationIDs})
		if err != nil {
			response.Error(w, h.logger, err)
			return
		}
		response.JSON(w, h.logger, http.StatusOK, res)
		return
	}

	runs, err := h.aggregator.RunAll(ctx)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}

	failed := 0
	out := make([]companyRunResponse, 0, len(runs))
	for _, run := range runs {
		item := companyRunResponse{CompanyID: run.CompanyID, Result: run.Result}
		if run.Err != nil {
			failed++
			item.Error = run.Err.Error()
		}
		out = append(out, item)
	}
	h.logger.Info("aggregation sweep completed", ports.Int("companies", len(runs)), ports.Int("failed", failed))
	h.respondRuns(w, failed, map[string]interface{}{"companies": out, "processed_at": time.Now().UTC().Format(time.RFC3339)})
}

// Execute handles POST /cron/execute
func (h *SettlementHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx, cancel := h.timeouts.CronContext(r.Context())
	defer cancel()

	switch {
	case req.BatchID != "":
		runs, err := h.executor.ExecuteBatch(ctx, req.BatchID)
		if err != nil {
			response.Error(w, h.logger, err)
			return
		}
		out, failed := payeeRuns(runs)
		h.respondRuns(w, failed, map[string]interface{}{"batch_id": req.BatchID, "payees": out})

	case req.PayeeID != "":
		res, err := h.executor.Execute(ctx, payout.PaymentTarget{
			CompanyID:     req.CompanyID,
			PayeeID:       req.PayeeID,
			ObligationIDs: req.ObligationIDs,
		})
		if err != nil {
			response.Error(w, h.logger, err)
			return
		}
		response.JSON(w, h.logger, http.StatusOK, res)

	default:
		sweep, err := h.executor.ExecuteAwaiting(ctx)
		if err != nil {
			response.Error(w, h.logger, err)
			return
		}
		failed := 0
		batches := make(map[string][]payeeRunResponse, len(sweep))
		for batchID, runs := range sweep {
			out, f := payeeRuns(runs)
			failed += f
			batches[batchID] = out
		}
		h.respondRuns(w, failed, map[string]interface{}{"batches": batches})
	}
}

// DrainNotifications handles POST /cron/notifications
func (h *SettlementHandler) DrainNotifications(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.timeouts.CronContext(r.Context())
	defer cancel()

	stats, err := h.drainer.DrainOnce(ctx)
	if err != nil {
		response.Error(w, h.logger, err)
		return
	}
	response.JSON(w, h.logger, http.StatusOK, stats)
}

// HealthCheck handles GET /cron/health for monitoring
func (h *SettlementHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Authenticate rejects requests without the scheduler secret
func (h *SettlementHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authenticateRequest(r) {
			h.logger.Warn("unauthorized cron request", ports.String("remote_addr", r.RemoteAddr), ports.String("path", r.URL.Path))
			response.Message(w, h.logger, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *SettlementHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if secret := r.Header.Get("X-Cron-Secret"); secret != "" {
		return subtle.ConstantTimeCompare([]byte(secret), []byte(h.cronSecret)) == 1
	}
	bearer := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(bearer), []byte("Bearer "+h.cronSecret)) == 1
}

// decode reads an optional JSON body into dst and validates it
func (h *SettlementHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
		if err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, h.logger, domain.WrapError(domain.ErrorCodeValidationFailed, "invalid JSON body", err))
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		response.Error(w, h.logger, err)
		return false
	}
	return true
}

// respondRuns answers 200 when every unit succeeded and 207 otherwise
func (h *SettlementHandler) respondRuns(w http.ResponseWriter, failed int, body map[string]interface{}) {
	body["success"] = failed == 0
	body["failure_count"] = failed
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(w, h.logger, status, body)
}

func payeeRuns(runs []payout.PayeeRun) ([]payeeRunResponse, int) {
	failed := 0
	out := make([]payeeRunResponse, 0, len(runs))
	for _, run := range runs {
		item := payeeRunResponse{PayeeID: run.PayeeID, Result: run.Result}
		if run.Err != nil {
			failed++
			item.Error = run.Err.Error()
		}
		out = append(out, item)
	}
	return out, failed
}
