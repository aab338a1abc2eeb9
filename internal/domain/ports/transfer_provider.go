package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRequest asks the provider to price a transfer of SourceAmount
type QuoteRequest struct {
	SourceAmount   decimal.Decimal
	ProfileID      string
	SourceCurrency string
	TargetCurrency string
}

// Quote is the provider's price for a transfer
type Quote struct {
	SourceAmount decimal.Decimal
	TargetAmount decimal.Decimal
	Fee          decimal.Decimal
	Rate         decimal.Decimal
	ID           string
}

// TransferRequest creates a transfer from a quote
type TransferRequest struct {
	TargetAccountID string
	QuoteID         string
	// CustomerTransactionID is the idempotency key; the provider returns the
	// existing transfer when it sees the same value twice.
	CustomerTransactionID string
	Reference             string
}

// Transfer is the provider's view of a transfer
type Transfer struct {
	SourceValue    decimal.Decimal
	TargetValue    decimal.Decimal
	ID             string
	Status         string
	SourceCurrency string
	TargetCurrency string
}

// FundRejection classifies why funding was refused
type FundRejection string

const (
	FundRejectionNone                FundRejection = ""
	FundRejectionInsufficientBalance FundRejection = "insufficient_balance"
	FundRejectionRecipientInactive   FundRejection = "recipient_inactive"
	FundRejectionOther               FundRejection = "other"
)

// FundResult is the outcome of funding a transfer
type FundResult struct {
	Status    string
	ErrorCode string
	Rejection FundRejection
}

// Accepted reports whether the provider accepted the funding instruction
func (r *FundResult) Accepted() bool {
	return r.Rejection == FundRejectionNone
}

// TransferProvider is the outbound money-movement API
type TransferProvider interface {
	// ProfileID is the provider profile transfers are issued from; events are scoped by it
	ProfileID() string

	CreateQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)

	// FundTransfer returns a non-nil FundResult for business rejections and an error for transport failures
	FundTransfer(ctx context.Context, transferID string) (*FundResult, error)

	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)
	GetDeliveryEstimate(ctx context.Context, transferID string) (time.Time, error)
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
}
