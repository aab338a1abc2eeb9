package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Split is the cash/equity division of a gross payable amount.
type Split struct {
	CashCents   int64 `json:"cash_cents"`
	EquityCents int64 `json:"equity_cents"`
	EquityUnits int64 `json:"equity_units"`

	// FlooredToCash is set when an equity share was requested but rounded to
	// zero units and was paid out as cash instead.
	FlooredToCash bool `json:"floored_to_cash"`
}

// CalculateSplit divides grossCents into cash and equity.
//
// equityCents = round_half_up(gross * equityPercent / 100) and the rounding
// residue stays in cash, so CashCents+EquityCents == grossCents always holds.
// A nil or non-positive share price yields a cash-only split. When the equity
// amount buys zero whole units the split floors to cash-only.
func CalculateSplit(grossCents int64, equityPercent int, sharePriceCents *int64) (Split, error) {
	if grossCents < 0 {
		return Split{}, WrapError(ErrorCodeInvariantViolation, "gross amount must not be negative", nil).
			WithDetail("gross_cents", grossCents)
	}
	if equityPercent < 0 || equityPercent > 100 {
		return Split{}, WrapError(ErrorCodeInvariantViolation, "equity percent must be between 0 and 100", nil).
			WithDetail("equity_percent", equityPercent)
	}

	cashOnly := Split{CashCents: grossCents}
	if grossCents == 0 || equityPercent == 0 || sharePriceCents == nil || *sharePriceCents <= 0 {
		return cashOnly, nil
	}

	equity := decimal.NewFromInt(grossCents).
		Mul(decimal.NewFromInt(int64(equityPercent))).
		Div(hundred).
		Round(0).
		IntPart()

	units := decimal.NewFromInt(equity).
		Div(decimal.NewFromInt(*sharePriceCents)).
		Round(0).
		IntPart()
	if units == 0 {
		cashOnly.FlooredToCash = true
		return cashOnly, nil
	}

	return Split{
		CashCents:   grossCents - equity,
		EquityCents: equity,
		EquityUnits: units,
	}, nil
}
