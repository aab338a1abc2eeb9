package reconcile

import (
	"time"

	"github.com/kevin07696/payout-service/internal/domain"
)

// KindHooks apply a payment outcome to one linked obligation. Each returns
// false when the obligation was already in the target state.
type KindHooks struct {
	OnPaid       func(o *domain.Obligation, paidAt time.Time) (bool, error)
	OnProcessing func(o *domain.Obligation, at time.Time) (bool, error)
	OnFailed     func(o *domain.Obligation, at time.Time) (bool, error)
}

// DefaultHooks returns the per-kind table used by the reconciler. Every kind
// shares the obligation state machine; the table is where kinds diverge.
func DefaultHooks() map[domain.ObligationKind]KindHooks {
	shared := KindHooks{
		OnPaid: func(o *domain.Obligation, paidAt time.Time) (bool, error) {
			return o.MarkPaid(paidAt)
		},
		OnProcessing: func(o *domain.Obligation, at time.Time) (bool, error) {
			if o.State == domain.ObligationStatePaid {
				return false, nil
			}
			return o.MarkProcessing(at)
		},
		OnFailed: func(o *domain.Obligation, at time.Time) (bool, error) {
			if o.State == domain.ObligationStatePaid {
				return false, nil
			}
			return o.MarkFailed(at)
		},
	}

	return map[domain.ObligationKind]KindHooks{
		domain.ObligationKindInvoice:       shared,
		domain.ObligationKindDividend:      shared,
		domain.ObligationKindEquityBuyback: shared,
	}
}
