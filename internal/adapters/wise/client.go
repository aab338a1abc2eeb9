package wise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kevin07696/payout-service/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payout-service/pkg/errors"
	"github.com/kevin07696/payout-service/pkg/observability"
	"github.com/shopspring/decimal"
)

const (
	payInBalance    = "BALANCE"
	fundCompleted   = "COMPLETED"
	fundRejected    = "REJECTED"
	balanceStandard = "STANDARD"

	// maxErrorBody bounds how much of an error response is read
	maxErrorBody = 64 << 10
)

// Config holds the provider connection settings
type Config struct {
	BaseURL   string
	ProfileID string
	// TokenPath is the credential store path of the API token
	TokenPath string
	Timeout   time.Duration
}

// Client implements ports.TransferProvider against the Wise REST API
type Client struct {
	httpClient ports.HTTPClient
	creds      ports.CredentialStore
	logger     ports.Logger
	breaker    *CircuitBreaker
	cfg        Config
}

// NewClient creates a Wise client
func NewClient(cfg Config, httpClient ports.HTTPClient, creds ports.CredentialStore, logger ports.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	breakerCfg := DefaultCircuitBreakerConfig()
	breakerCfg.Counts = countsAgainstProvider
	breakerCfg.OnStateChange = func(from, to CircuitState) {
		logger.Warn("Provider circuit breaker state changed",
			ports.String("from", from.String()),
			ports.String("to", to.String()))
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		creds:      creds,
		logger:     logger,
		breaker:    NewCircuitBreaker(breakerCfg),
	}
}

// ProfileID returns the profile transfers are issued from
func (c *Client) ProfileID() string {
	return c.cfg.ProfileID
}

// CreateQuote prices a balance-funded transfer of req.SourceAmount
func (c *Client) CreateQuote(ctx context.Context, req ports.QuoteRequest) (*ports.Quote, error) {
	profile := req.ProfileID
	if profile == "" {
		profile = c.cfg.ProfileID
	}

	body := quoteRequest{
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		SourceAmount:   json.Number(req.SourceAmount.StringFixed(2)),
		PayOut:         "BANK_TRANSFER",
	}

	var resp quoteResponse
	path := fmt.Sprintf("/v3/profiles/%s/quotes", url.PathEscape(profile))
	if err := c.call(ctx, "quote", http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}

	quote := &ports.Quote{
		ID:           resp.ID,
		SourceAmount: resp.SourceAmount,
		TargetAmount: resp.TargetAmount,
		Rate:         resp.Rate,
	}
	if opt := resp.balanceOption(); opt != nil {
		quote.Fee = opt.Fee.Total
		if !opt.SourceAmount.IsZero() {
			quote.SourceAmount = opt.SourceAmount
		}
		if !opt.TargetAmount.IsZero() {
			quote.TargetAmount = opt.TargetAmount
		}
	}
	return quote, nil
}

// CreateTransfer creates a transfer from a quote. The provider deduplicates on
// CustomerTransactionID and returns the existing transfer for a repeated key.
func (c *Client) CreateTransfer(ctx context.Context, req ports.TransferRequest) (*ports.Transfer, error) {
	if req.CustomerTransactionID == "" {
		return nil, pkgerrors.NewPaymentError("missing_idempotency_key",
			"customer transaction id is required", pkgerrors.CategoryInvalidRequest, false)
	}

	body := transferRequest{
		TargetAccount:         json.Number(req.TargetAccountID),
		QuoteUUID:             req.QuoteID,
		CustomerTransactionID: req.CustomerTransactionID,
		Details:               transferDetails{Reference: req.Reference},
	}

	var resp transferResponse
	if err := c.call(ctx, "transfer", http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return nil, err
	}
	return resp.toPort(), nil
}

// FundTransfer pays a transfer from the platform balance.
// Business rejections come back as a FundResult, not an error.
func (c *Client) FundTransfer(ctx context.Context, transferID string) (*ports.FundResult, error) {
	path := fmt.Sprintf("/v3/profiles/%s/transfers/%s/payments",
		url.PathEscape(c.cfg.ProfileID), url.PathEscape(transferID))

	var resp fundResponse
	err := c.call(ctx, "fund", http.MethodPost, path, fundRequest{Type: payInBalance}, &resp)
	if err != nil {
		// Some rejections arrive as 4xx with the reason in the error body
		if pe, ok := pkgerrors.AsPaymentError(err); ok && pe.Category == pkgerrors.CategoryInvalidRequest {
			if rejection := classifyFundError(pe.Code); rejection != ports.FundRejectionOther {
				return &ports.FundResult{Status: fundRejected, ErrorCode: pe.Code, Rejection: rejection}, nil
			}
		}
		return nil, err
	}

	result := &ports.FundResult{Status: resp.Status, ErrorCode: resp.ErrorCode}
	if !strings.EqualFold(resp.Status, fundCompleted) {
		result.Rejection = classifyFundError(resp.ErrorCode)
		c.logger.Warn("Provider rejected transfer funding",
			ports.String("transfer_id", transferID),
			ports.String("status", resp.Status),
			ports.String("error_code", resp.ErrorCode))
	}
	return result, nil
}

// GetTransfer fetches the provider's current view of a transfer
func (c *Client) GetTransfer(ctx context.Context, transferID string) (*ports.Transfer, error) {
	var resp transferResponse
	path := "/v1/transfers/" + url.PathEscape(transferID)
	if err := c.call(ctx, "get_transfer", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toPort(), nil
}

// GetDeliveryEstimate returns when the provider expects funds to arrive
func (c *Client) GetDeliveryEstimate(ctx context.Context, transferID string) (time.Time, error) {
	var resp deliveryEstimateResponse
	path := "/v1/delivery-estimates/" + url.PathEscape(transferID)
	if err := c.call(ctx, "delivery_estimate", http.MethodGet, path, nil, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.EstimatedDeliveryDate.UTC(), nil
}

// GetBalance returns the available platform balance in currency.
// A currency with no balance account reports zero.
func (c *Client) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var resp []balanceResponse
	path := fmt.Sprintf("/v4/profiles/%s/balances?types=%s", url.PathEscape(c.cfg.ProfileID), balanceStandard)
	if err := c.call(ctx, "balance", http.MethodGet, path, nil, &resp); err != nil {
		return decimal.Zero, err
	}

	for _, b := range resp {
		if strings.EqualFold(b.Currency, currency) {
			return b.Amount.Value, nil
		}
	}
	return decimal.Zero, nil
}

// call runs one request through the circuit breaker and records its duration
func (c *Client) call(ctx context.Context, operation, method, path string, body, out any) error {
	start := time.Now()

	err := c.breaker.Call(func() error {
		return c.do(ctx, method, path, body, out)
	})
	if errors.Is(err, ErrCircuitOpen) {
		pe := pkgerrors.NewPaymentError("circuit_open", "transfer provider temporarily unavailable",
			pkgerrors.CategoryCircuitOpen, true)
		pe.Details["operation"] = operation
		err = pe
	}

	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Error("Provider call failed",
			ports.String("operation", operation),
			ports.String("path", path),
			ports.Err(err))
	}
	observability.RecordProviderCall(operation, status, time.Since(start).Seconds())
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.creds.GetSecret(ctx, c.cfg.TokenPath)
	if err != nil {
		return fmt.Errorf("failed to resolve provider token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pe := pkgerrors.NewPaymentError("network_error", "transfer provider unreachable",
			pkgerrors.CategoryNetworkError, true)
		pe.ProviderMessage = err.Error()
		return pe
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		pe := pkgerrors.NewPaymentError("invalid_response", "could not decode provider response",
			pkgerrors.CategorySystemError, false)
		pe.StatusCode = resp.StatusCode
		pe.ProviderMessage = err.Error()
		return pe
	}
	return nil
}

// statusError maps a non-2xx response to a PaymentError
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorResponse
	_ = json.Unmarshal(raw, &body)
	code, message := body.summary()

	pe := &pkgerrors.PaymentError{
		Code:            code,
		Message:         http.StatusText(resp.StatusCode),
		ProviderMessage: message,
		StatusCode:      resp.StatusCode,
		Details:         map[string]interface{}{},
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		pe.Category = pkgerrors.CategoryUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Category = pkgerrors.CategorySystemError
		pe.IsRetriable = true
	case resp.StatusCode >= http.StatusInternalServerError:
		pe.Category = pkgerrors.CategorySystemError
		pe.IsRetriable = true
	default:
		pe.Category = pkgerrors.CategoryInvalidRequest
	}
	if pe.Code == "" {
		pe.Code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	if pe.ProviderMessage == "" && len(raw) > 0 && body.Errors == nil {
		pe.ProviderMessage = strings.TrimSpace(string(raw))
	}
	return pe
}

// countsAgainstProvider reports errors that indicate the provider itself is unhealthy.
// Rejected requests and bad credentials do not open the circuit.
func countsAgainstProvider(err error) bool {
	pe, ok := pkgerrors.AsPaymentError(err)
	if !ok {
		return false
	}
	return pe.IsRetriable
}

// classifyFundError maps a funding error code to a rejection class
func classifyFundError(code string) ports.FundRejection {
	c := strings.ToLower(code)
	switch {
	case strings.Contains(c, "insufficient") || strings.Contains(c, "balance"):
		return ports.FundRejectionInsufficientBalance
	case strings.Contains(c, "recipient") || strings.Contains(c, "account"):
		if strings.Contains(c, "inactive") || strings.Contains(c, "deactivated") ||
			strings.Contains(c, "deleted") || strings.Contains(c, "invalid") {
			return ports.FundRejectionRecipientInactive
		}
	}
	return ports.FundRejectionOther
}

func (t *transferResponse) toPort() *ports.Transfer {
	return &ports.Transfer{
		ID:             t.ID.String(),
		Status:         t.Status,
		SourceCurrency: t.SourceCurrency,
		TargetCurrency: t.TargetCurrency,
		SourceValue:    t.SourceValue,
		TargetValue:    t.TargetValue,
	}
}

var _ ports.TransferProvider = (*Client)(nil)
