package domain

import "github.com/shopspring/decimal"

// FeeSchedule is the per-obligation service fee charged to the company on
// top of the principal: min(BaseCents + round_half_up(Rate * gross), CapCents).
type FeeSchedule struct {
	Rate      decimal.Decimal
	BaseCents int64
	CapCents  int64
}

// DefaultFeeSchedule is 50 cents + 1.5%, capped at $15.
var DefaultFeeSchedule = FeeSchedule{
	BaseCents: 50,
	Rate:      decimal.RequireFromString("0.015"),
	CapCents:  1500,
}

// FeeCents computes the fee for a gross amount.
func (f FeeSchedule) FeeCents(grossCents int64) int64 {
	fee := f.BaseCents + decimal.NewFromInt(grossCents).Mul(f.Rate).Round(0).IntPart()
	if f.CapCents > 0 && fee > f.CapCents {
		return f.CapCents
	}
	return fee
}
