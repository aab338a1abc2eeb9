package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the state of one money-movement attempt
type PaymentState string

const (
	PaymentStateInitialized PaymentState = "initialized"
	PaymentStateProcessing  PaymentState = "processing"
	PaymentStateSucceeded   PaymentState = "succeeded"
	PaymentStateFailed      PaymentState = "failed"
	PaymentStateCancelled   PaymentState = "cancelled"
	PaymentStateRefunded    PaymentState = "refunded"
)

// IsTerminal returns true once the provider has settled the attempt either way
func (s PaymentState) IsTerminal() bool {
	switch s {
	case PaymentStateSucceeded, PaymentStateFailed, PaymentStateCancelled, PaymentStateRefunded:
		return true
	}
	return false
}

// paymentTransitions lists, for each target state, the states it may be entered from.
// Transitions are monotonic: nothing leaves refunded, and succeeded only leaves via refund.
var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStateProcessing: {PaymentStateInitialized},
	PaymentStateSucceeded:  {PaymentStateInitialized, PaymentStateProcessing},
	PaymentStateFailed:     {PaymentStateInitialized, PaymentStateProcessing},
	PaymentStateCancelled:  {PaymentStateInitialized, PaymentStateProcessing},
	PaymentStateRefunded:   {PaymentStateSucceeded, PaymentStateProcessing, PaymentStateInitialized},
}

// AllowedSources returns the states a payment may move to `to` from.
// Repositories use it to guard compare-and-set updates.
func AllowedSources(to PaymentState) []PaymentState {
	return paymentTransitions[to]
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to PaymentState) bool {
	for _, s := range paymentTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Payment is one attempt to move money through the transfer provider.
// It covers either a batch's payee group (BatchID set) or a set of
// non-batched obligations.
type Payment struct {
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	TransferEstimate      *time.Time       `json:"transfer_estimate,omitempty"`
	BatchID               *string          `json:"batch_id,omitempty"`
	QuoteID               *string          `json:"quote_id,omitempty"`
	TransferID            *string          `json:"transfer_id,omitempty"`
	TransferStatus        *string          `json:"transfer_status,omitempty"`
	TransferBucket        *TransferBucket  `json:"transfer_bucket,omitempty"`
	TotalTransactionCents *int64           `json:"total_transaction_cents,omitempty"`
	FeeCents              *int64           `json:"fee_cents,omitempty"`
	TransferAmount        *decimal.Decimal `json:"transfer_amount,omitempty"`
	TransferCurrency      *string          `json:"transfer_currency,omitempty"`
	FailureReason         *string          `json:"failure_reason,omitempty"`
	ObligationIDs         []string         `json:"obligation_ids"`
	ID                    string           `json:"id"`
	CompanyID             string           `json:"company_id"`
	PayeeID               string           `json:"payee_id"`
	RecipientID           string           `json:"recipient_id"`
	ProviderProfileID     string           `json:"provider_profile_id"`
	ProcessorReference    string           `json:"processor_reference"`
	SourceCurrency        string           `json:"source_currency"`
	Kind                  ObligationKind   `json:"kind"`
	State                 PaymentState     `json:"state"`
	AmountCents           int64            `json:"amount_cents"`
	WithheldCents         int64            `json:"withheld_cents"`
}

// Transition moves the payment to `to` if allowed. Returns false on a no-op.
func (p *Payment) Transition(to PaymentState, at time.Time) bool {
	if !CanTransition(p.State, to) {
		return false
	}
	p.State = to
	p.UpdatedAt = at
	return true
}

// Fail records a failure reason and moves the payment to failed
func (p *Payment) Fail(reason string, at time.Time) bool {
	if !p.Transition(PaymentStateFailed, at) {
		return false
	}
	p.FailureReason = &reason
	return true
}

// RecordTransferStatus stores the provider's raw status and its bucket.
// Called on every event, including duplicates: last event wins.
func (p *Payment) RecordTransferStatus(raw string) {
	bucket := ClassifyTransferState(raw)
	p.TransferStatus = &raw
	p.TransferBucket = &bucket
}

// CoversAmount reports whether totalTransactionCents equals principal plus fee
func (p *Payment) CoversAmount() bool {
	if p.TotalTransactionCents == nil || p.FeeCents == nil {
		return true
	}
	return *p.TotalTransactionCents == p.AmountCents+*p.FeeCents
}
