package wise

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type quoteRequest struct {
	SourceCurrency string      `json:"sourceCurrency"`
	TargetCurrency string      `json:"targetCurrency"`
	SourceAmount   json.Number `json:"sourceAmount"`
	PayOut         string      `json:"payOut,omitempty"`
}

type quoteFee struct {
	Total decimal.Decimal `json:"total"`
}

type paymentOption struct {
	PayIn        string          `json:"payIn"`
	PayOut       string          `json:"payOut"`
	Disabled     bool            `json:"disabled"`
	SourceAmount decimal.Decimal `json:"sourceAmount"`
	TargetAmount decimal.Decimal `json:"targetAmount"`
	Fee          quoteFee        `json:"fee"`
}

type quoteResponse struct {
	ID             string          `json:"id"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceAmount   decimal.Decimal `json:"sourceAmount"`
	TargetAmount   decimal.Decimal `json:"targetAmount"`
	Rate           decimal.Decimal `json:"rate"`
	PaymentOptions []paymentOption `json:"paymentOptions"`
}

// balanceOption returns the pay-in option used to fund from the platform balance
func (q *quoteResponse) balanceOption() *paymentOption {
	for i := range q.PaymentOptions {
		opt := &q.PaymentOptions[i]
		if opt.PayIn == payInBalance && !opt.Disabled {
			return opt
		}
	}
	return nil
}

type transferDetails struct {
	Reference string `json:"reference,omitempty"`
}

type transferRequest struct {
	TargetAccount         json.Number     `json:"targetAccount"`
	QuoteUUID             string          `json:"quoteUuid"`
	CustomerTransactionID string          `json:"customerTransactionId"`
	Details               transferDetails `json:"details"`
}

type transferResponse struct {
	ID             json.Number     `json:"id"`
	Status         string          `json:"status"`
	SourceCurrency string          `json:"sourceCurrency"`
	TargetCurrency string          `json:"targetCurrency"`
	SourceValue    decimal.Decimal `json:"sourceValue"`
	TargetValue    decimal.Decimal `json:"targetValue"`
}

type fundRequest struct {
	Type string `json:"type"`
}

type fundResponse struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	ErrorCode string `json:"errorCode"`
}

type deliveryEstimateResponse struct {
	EstimatedDeliveryDate time.Time `json:"estimatedDeliveryDate"`
}

type balanceAmount struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

type balanceResponse struct {
	ID       json.Number   `json:"id"`
	Currency string        `json:"currency"`
	Type     string        `json:"type"`
	Amount   balanceAmount `json:"amount"`
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Path      string `json:"path,omitempty"`
	Arguments []any  `json:"arguments,omitempty"`
}

type errorResponse struct {
	Errors  []apiError `json:"errors"`
	Error   string     `json:"error"`
	Message string     `json:"message"`
}

// summary returns the first provider code and message found in the body
func (e *errorResponse) summary() (code, message string) {
	if len(e.Errors) > 0 {
		return e.Errors[0].Code, e.Errors[0].Message
	}
	return e.Error, e.Message
}
