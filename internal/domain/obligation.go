package domain

import (
	"time"
)

// ObligationKind tags which workflow produced an obligation
type ObligationKind string

const (
	ObligationKindInvoice       ObligationKind = "invoice"
	ObligationKindDividend      ObligationKind = "dividend"
	ObligationKindEquityBuyback ObligationKind = "equity_buyback"
)

// IsValid reports whether k is a known kind
func (k ObligationKind) IsValid() bool {
	switch k {
	case ObligationKindInvoice, ObligationKindDividend, ObligationKindEquityBuyback:
		return true
	}
	return false
}

// SupportsSplit reports whether obligations of this kind may carry equity.
// Dividends and buybacks are always cash-only.
func (k ObligationKind) SupportsSplit() bool {
	return k == ObligationKindInvoice
}

// ObligationState is the lifecycle state of an obligation
type ObligationState string

const (
	ObligationStateReceived       ObligationState = "received"
	ObligationStateApproved       ObligationState = "approved"
	ObligationStatePaymentPending ObligationState = "payment_pending"
	ObligationStateProcessing     ObligationState = "processing"
	ObligationStatePaid           ObligationState = "paid"
	ObligationStateRejected       ObligationState = "rejected"
	ObligationStateFailed         ObligationState = "failed"
	ObligationStateRetained       ObligationState = "retained"
)

// InvoiceDetails is the payload of a contractor invoice
type InvoiceDetails struct {
	SharePriceCents *int64    `json:"share_price_cents,omitempty"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	InvoiceNumber   string    `json:"invoice_number"`
	EquityPercent   int       `json:"equity_percent"`
}

// DividendDetails is the payload of an investor dividend
type DividendDetails struct {
	DividendRoundID string `json:"dividend_round_id"`
	NumberOfShares  int64  `json:"number_of_shares"`
}

// BuybackDetails is the payload of an equity buyback payout
type BuybackDetails struct {
	TenderOfferID   string `json:"tender_offer_id"`
	NumberOfShares  int64  `json:"number_of_shares"`
	SharePriceCents int64  `json:"share_price_cents"`
}

// Obligation is an amount owed by a company to one payee.
// Exactly one of Invoice, Dividend or Buyback is set, matching Kind.
type Obligation struct {
	ObligationDate    time.Time        `json:"obligation_date"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	BatchID           *string          `json:"batch_id,omitempty"`
	RetainedReason    *RetainedReason  `json:"retained_reason,omitempty"`
	RejectionReason   *string          `json:"rejection_reason,omitempty"`
	Invoice           *InvoiceDetails  `json:"invoice,omitempty"`
	Dividend          *DividendDetails `json:"dividend,omitempty"`
	Buyback           *BuybackDetails  `json:"buyback,omitempty"`
	Approvers         []string         `json:"approvers"`
	ID                string           `json:"id"`
	CompanyID         string           `json:"company_id"`
	PayeeID           string           `json:"payee_id"`
	Kind              ObligationKind   `json:"kind"`
	State             ObligationState  `json:"state"`
	GrossAmountCents  int64            `json:"gross_amount_cents"`
	CashAmountCents   int64            `json:"cash_amount_cents"`
	EquityAmountCents int64            `json:"equity_amount_cents"`
	EquityUnits       int64            `json:"equity_units"`
	FeeCents          int64            `json:"fee_cents"`
	RequiredApprovals int              `json:"required_approvals"`
}

// Validate checks the structural invariants of an obligation
func (o *Obligation) Validate() error {
	if !o.Kind.IsValid() {
		return WrapError(ErrorCodeValidationFailed, "unknown obligation kind", nil).WithDetail("kind", o.Kind)
	}
	if o.CompanyID == "" || o.PayeeID == "" {
		return WrapError(ErrorCodeValidationFailed, "company_id and payee_id are required", nil)
	}
	if o.RequiredApprovals < 1 {
		return WrapError(ErrorCodeValidationFailed, "required approvals must be at least 1", nil)
	}

	switch o.Kind {
	case ObligationKindInvoice:
		if o.Invoice == nil {
			return WrapError(ErrorCodeValidationFailed, "invoice details required", nil)
		}
	case ObligationKindDividend:
		if o.Dividend == nil {
			return WrapError(ErrorCodeValidationFailed, "dividend details required", nil)
		}
	case ObligationKindEquityBuyback:
		if o.Buyback == nil {
			return WrapError(ErrorCodeValidationFailed, "buyback details required", nil)
		}
	}

	return o.CheckAmounts()
}

// CheckAmounts verifies cash + equity == gross and that cash-only kinds carry no equity.
func (o *Obligation) CheckAmounts() error {
	if o.GrossAmountCents < 0 || o.CashAmountCents < 0 || o.EquityAmountCents < 0 || o.EquityUnits < 0 {
		return WrapError(ErrorCodeInvariantViolation, "negative amount on obligation", nil).WithDetail("obligation_id", o.ID)
	}
	if o.CashAmountCents+o.EquityAmountCents != o.GrossAmountCents {
		return WrapError(ErrorCodeInvariantViolation, "cash and equity do not sum to gross", nil).
			WithDetail("obligation_id", o.ID).
			WithDetail("gross_cents", o.GrossAmountCents).
			WithDetail("cash_cents", o.CashAmountCents).
			WithDetail("equity_cents", o.EquityAmountCents)
	}
	if !o.Kind.SupportsSplit() && o.EquityAmountCents != 0 {
		return WrapError(ErrorCodeInvariantViolation, "cash-only obligation carries equity", nil).WithDetail("obligation_id", o.ID)
	}
	return nil
}

// ApplySplit stores a split computed by CalculateSplit
func (o *Obligation) ApplySplit(s Split) {
	o.CashAmountCents = s.CashCents
	o.EquityAmountCents = s.EquityCents
	o.EquityUnits = s.EquityUnits
}

// ApprovalCount returns the number of distinct approvers
func (o *Obligation) ApprovalCount() int {
	return len(o.Approvers)
}

// HasApproved reports whether approverID already approved
func (o *Obligation) HasApproved(approverID string) bool {
	for _, a := range o.Approvers {
		if a == approverID {
			return true
		}
	}
	return false
}

// IsFullyApproved returns true when the obligation has collected its required approvals
func (o *Obligation) IsFullyApproved() bool {
	return o.State == ObligationStateApproved && o.ApprovalCount() >= o.RequiredApprovals
}

// IsPayable reports whether money may move for this obligation.
// An equity component also needs the payee's election for the period to be locked.
func (o *Obligation) IsPayable(electionLocked bool) bool {
	if !o.IsFullyApproved() {
		return false
	}
	return o.EquityAmountCents == 0 || electionLocked
}

// IsTerminal returns true for paid and rejected obligations
func (o *Obligation) IsTerminal() bool {
	return o.State == ObligationStatePaid || o.State == ObligationStateRejected
}

// Approve records an approval from approverID. Each approver counts once.
// Returns false when nothing changed.
func (o *Obligation) Approve(approverID string, at time.Time) (bool, error) {
	if approverID == "" {
		return false, WrapError(ErrorCodeValidationFailed, "approver_id is required", nil)
	}
	if o.State != ObligationStateReceived && o.State != ObligationStateApproved {
		return false, nil
	}
	if o.HasApproved(approverID) {
		return false, nil
	}

	o.Approvers = append(o.Approvers, approverID)
	o.State = ObligationStateApproved
	o.UpdatedAt = at
	return true, nil
}

// Reject clears every approval and moves the obligation to rejected. Any
// non-terminal state is accepted except payment_pending and processing,
// where a charge or transfer is already live.
func (o *Obligation) Reject(reason string, at time.Time) (bool, error) {
	switch o.State {
	case ObligationStateRejected:
		return false, nil
	case ObligationStateReceived, ObligationStateApproved, ObligationStateFailed, ObligationStateRetained:
	default:
		return false, o.transitionError(ObligationStateRejected)
	}

	o.Approvers = nil
	o.State = ObligationStateRejected
	o.RetainedReason = nil
	if reason != "" {
		o.RejectionReason = &reason
	}
	o.UpdatedAt = at
	return true, nil
}

// CanBeCharged reports whether the aggregator may link this obligation to a batch
func (o *Obligation) CanBeCharged(electionLocked bool) bool {
	if o.Kind != ObligationKindInvoice || o.BatchID != nil {
		return false
	}
	return o.IsPayable(electionLocked) ||
		o.State == ObligationStateFailed ||
		o.State == ObligationStatePaid
}

// MarkChargeable links the obligation to batchID. Paid obligations keep
// their state; everything else moves to payment_pending.
func (o *Obligation) MarkChargeable(batchID string, electionLocked bool, at time.Time) error {
	if o.BatchID != nil && *o.BatchID == batchID {
		return nil
	}
	if !o.CanBeCharged(electionLocked) {
		return WrapError(ErrorCodeObligationNotChargeable, "obligation is not chargeable", nil).
			WithDetail("obligation_id", o.ID).
			WithDetail("state", o.State)
	}

	o.BatchID = &batchID
	if o.State != ObligationStatePaid {
		o.State = ObligationStatePaymentPending
		o.RetainedReason = nil
	}
	o.UpdatedAt = at
	return nil
}

// MarkProcessing records that money is in transit
func (o *Obligation) MarkProcessing(at time.Time) (bool, error) {
	switch o.State {
	case ObligationStateProcessing, ObligationStatePaid:
		return false, nil
	case ObligationStateApproved, ObligationStatePaymentPending, ObligationStateFailed:
	default:
		return false, o.transitionError(ObligationStateProcessing)
	}

	o.State = ObligationStateProcessing
	o.UpdatedAt = at
	return true, nil
}

// MarkPaid is idempotent; the first paid-at timestamp wins.
func (o *Obligation) MarkPaid(paidAt time.Time) (bool, error) {
	switch o.State {
	case ObligationStatePaid:
		return false, nil
	case ObligationStateRejected:
		return false, o.transitionError(ObligationStatePaid)
	}

	paidAt = paidAt.UTC()
	o.State = ObligationStatePaid
	o.PaidAt = &paidAt
	o.RetainedReason = nil
	o.UpdatedAt = paidAt
	return true, nil
}

// MarkFailed returns the obligation to the retry pool and drops its live batch reference.
// Paid obligations are left untouched.
func (o *Obligation) MarkFailed(at time.Time) (bool, error) {
	switch o.State {
	case ObligationStatePaid, ObligationStateFailed:
		return false, nil
	case ObligationStateApproved, ObligationStatePaymentPending, ObligationStateProcessing:
	default:
		return false, o.transitionError(ObligationStateFailed)
	}

	o.State = ObligationStateFailed
	o.BatchID = nil
	o.UpdatedAt = at
	return true, nil
}

// MarkRetained withholds payment for a policy reason
func (o *Obligation) MarkRetained(reason RetainedReason, at time.Time) (bool, error) {
	switch o.State {
	case ObligationStateRetained:
		if o.RetainedReason != nil && *o.RetainedReason == reason {
			return false, nil
		}
	case ObligationStateApproved, ObligationStatePaymentPending, ObligationStateProcessing, ObligationStateFailed:
	default:
		return false, o.transitionError(ObligationStateRetained)
	}

	o.State = ObligationStateRetained
	o.RetainedReason = &reason
	o.BatchID = nil
	o.UpdatedAt = at
	return true, nil
}

// ReleaseRetention puts a retained obligation back into the payable pool
// once the blocking condition has cleared.
func (o *Obligation) ReleaseRetention(at time.Time) (bool, error) {
	if o.State != ObligationStateRetained {
		return false, o.transitionError(ObligationStateApproved)
	}
	o.State = ObligationStateApproved
	o.RetainedReason = nil
	o.UpdatedAt = at
	return true, nil
}

func (o *Obligation) transitionError(to ObligationState) *DomainError {
	return WrapError(ErrorCodeInvalidTransition, "obligation state transition not allowed", nil).
		WithDetail("obligation_id", o.ID).
		WithDetail("from", o.State).
		WithDetail("to", to)
}
