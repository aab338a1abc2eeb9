package domain

import (
	"time"
)

// BatchState is the state of a consolidated company charge
type BatchState string

const (
	BatchStateSent     BatchState = "sent"
	BatchStatePaid     BatchState = "paid"
	BatchStateFailed   BatchState = "failed"
	BatchStateRefunded BatchState = "refunded"
)

// Batch groups a company's obligations into a single charge.
// ObligationIDs is the membership at creation time and never changes.
type Batch struct {
	InvoiceDate    time.Time  `json:"invoice_date"`
	PeriodStart    time.Time  `json:"period_start"`
	PeriodEnd      time.Time  `json:"period_end"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ObligationIDs  []string   `json:"obligation_ids"`
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	State          BatchState `json:"state"`
	PrincipalCents int64      `json:"principal_cents"`
	FeeCents       int64      `json:"fee_cents"`
	TotalCents     int64      `json:"total_cents"`
}

// NewBatch builds a sent batch over members. Principal is the sum of cash
// amounts; equity is never charged to the company.
func NewBatch(id, companyID string, invoiceDate time.Time, members []*Obligation) (*Batch, error) {
	if len(members) == 0 {
		return nil, WrapError(ErrorCodeInvariantViolation, "batch requires at least one obligation", nil)
	}

	b := &Batch{
		ID:            id,
		CompanyID:     companyID,
		InvoiceDate:   invoiceDate,
		State:         BatchStateSent,
		CreatedAt:     invoiceDate,
		UpdatedAt:     invoiceDate,
		ObligationIDs: make([]string, 0, len(members)),
	}

	for i, o := range members {
		if o.CompanyID != companyID {
			return nil, WrapError(ErrorCodeInvariantViolation, "obligation belongs to another company", nil).
				WithDetail("obligation_id", o.ID)
		}
		if err := o.CheckAmounts(); err != nil {
			return nil, err
		}
		if i == 0 || o.ObligationDate.Before(b.PeriodStart) {
			b.PeriodStart = o.ObligationDate
		}
		if i == 0 || o.ObligationDate.After(b.PeriodEnd) {
			b.PeriodEnd = o.ObligationDate
		}
		b.PrincipalCents += o.CashAmountCents
		b.FeeCents += o.FeeCents
		b.ObligationIDs = append(b.ObligationIDs, o.ID)
	}
	b.TotalCents = b.PrincipalCents + b.FeeCents

	return b, b.CheckInvariants(members)
}

// CheckInvariants verifies principal against members and total against principal + fee
func (b *Batch) CheckInvariants(members []*Obligation) error {
	var principal int64
	for _, o := range members {
		principal += o.CashAmountCents
	}
	if principal != b.PrincipalCents {
		return WrapError(ErrorCodeInvariantViolation, "batch principal does not match members", nil).
			WithDetail("batch_id", b.ID).
			WithDetail("principal_cents", b.PrincipalCents).
			WithDetail("member_cash_cents", principal)
	}
	if b.PrincipalCents+b.FeeCents != b.TotalCents {
		return WrapError(ErrorCodeInvariantViolation, "batch total does not equal principal plus fee", nil).
			WithDetail("batch_id", b.ID)
	}
	return nil
}

// MarkPaid settles the batch
func (b *Batch) MarkPaid(at time.Time) bool {
	if b.State != BatchStateSent && b.State != BatchStateFailed {
		return false
	}
	b.State = BatchStatePaid
	b.UpdatedAt = at
	return true
}

// MarkFailed flags a sent batch whose payout failed
func (b *Batch) MarkFailed(at time.Time) bool {
	if b.State != BatchStateSent {
		return false
	}
	b.State = BatchStateFailed
	b.UpdatedAt = at
	return true
}

// MarkRefunded is terminal
func (b *Batch) MarkRefunded(at time.Time) bool {
	if b.State == BatchStateRefunded {
		return false
	}
	b.State = BatchStateRefunded
	b.UpdatedAt = at
	return true
}
