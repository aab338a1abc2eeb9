package fixtures

import (
	"time"

	"github.com/google/uuid"

	"github.com/kevin07696/payout-service/internal/domain"
)

// ObligationBuilder provides fluent API for building test obligations.
type ObligationBuilder struct {
	obligation *domain.Obligation
}

// NewInvoice creates a cash-only invoice builder in received state.
func NewInvoice(companyID, payeeID string, grossCents int64) *ObligationBuilder {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &ObligationBuilder{
		obligation: &domain.Obligation{
			ID:                uuid.NewString(),
			CompanyID:         companyID,
			PayeeID:           payeeID,
			Kind:              domain.ObligationKindInvoice,
			State:             domain.ObligationStateReceived,
			GrossAmountCents:  grossCents,
			CashAmountCents:   grossCents,
			FeeCents:          domain.DefaultFeeSchedule.FeeCents(grossCents),
			RequiredApprovals: 1,
			ObligationDate:    now,
			CreatedAt:         now,
			UpdatedAt:         now,
			Invoice: &domain.InvoiceDetails{
				InvoiceNumber: "INV-" + uuid.NewString()[:8],
				PeriodStart:   now.AddDate(0, -1, 0),
				PeriodEnd:     now,
			},
		},
	}
}

// NewDividend creates a dividend builder in received state.
func NewDividend(companyID, payeeID string, grossCents int64) *ObligationBuilder {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &ObligationBuilder{
		obligation: &domain.Obligation{
			ID:                uuid.NewString(),
			CompanyID:         companyID,
			PayeeID:           payeeID,
			Kind:              domain.ObligationKindDividend,
			State:             domain.ObligationStateReceived,
			GrossAmountCents:  grossCents,
			CashAmountCents:   grossCents,
			RequiredApprovals: 1,
			ObligationDate:    now,
			CreatedAt:         now,
			UpdatedAt:         now,
			Dividend:          &domain.DividendDetails{DividendRoundID: uuid.NewString(), NumberOfShares: 100},
		},
	}
}

func (b *ObligationBuilder) WithID(id string) *ObligationBuilder {
	b.obligation.ID = id
	return b
}

func (b *ObligationBuilder) WithDate(d time.Time) *ObligationBuilder {
	b.obligation.ObligationDate = d
	return b
}

func (b *ObligationBuilder) WithSplit(cash, equity, units int64) *ObligationBuilder {
	b.obligation.CashAmountCents = cash
	b.obligation.EquityAmountCents = equity
	b.obligation.EquityUnits = units
	return b
}

func (b *ObligationBuilder) WithRequiredApprovals(n int) *ObligationBuilder {
	b.obligation.RequiredApprovals = n
	return b
}

// Approved fills the approver list up to RequiredApprovals.
func (b *ObligationBuilder) Approved() *ObligationBuilder {
	b.obligation.State = domain.ObligationStateApproved
	b.obligation.Approvers = nil
	for i := 0; i < b.obligation.RequiredApprovals; i++ {
		b.obligation.Approvers = append(b.obligation.Approvers, uuid.NewString())
	}
	return b
}

func (b *ObligationBuilder) WithState(s domain.ObligationState) *ObligationBuilder {
	b.obligation.State = s
	return b
}

func (b *ObligationBuilder) WithBatch(batchID string) *ObligationBuilder {
	b.obligation.BatchID = &batchID
	return b
}

func (b *ObligationBuilder) Build() *domain.Obligation {
	return b.obligation
}
