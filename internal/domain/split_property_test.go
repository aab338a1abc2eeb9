//go:build property

package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSplitProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 2000
	properties := gopter.NewProperties(params)

	properties.Property("cash plus equity equals gross", prop.ForAll(
		func(gross int64, pct int, price int64) bool {
			split, err := CalculateSplit(gross, pct, &price)
			if err != nil {
				return false
			}
			return split.CashCents+split.EquityCents == gross
		},
		gen.Int64Range(0, 1_000_000_000),
		gen.IntRange(0, 100),
		gen.Int64Range(1, 100_000),
	))

	properties.Property("equity units are zero exactly when equity is zero", prop.ForAll(
		func(gross int64, pct int, price int64) bool {
			split, err := CalculateSplit(gross, pct, &price)
			if err != nil {
				return false
			}
			return (split.EquityCents == 0) == (split.EquityUnits == 0)
		},
		gen.Int64Range(0, 1_000_000_000),
		gen.IntRange(0, 100),
		gen.Int64Range(1, 100_000),
	))

	properties.Property("fee never exceeds cap", prop.ForAll(
		func(gross int64) bool {
			fee := DefaultFeeSchedule.FeeCents(gross)
			return fee >= DefaultFeeSchedule.BaseCents && fee <= DefaultFeeSchedule.CapCents
		},
		gen.Int64Range(0, 1_000_000_000),
	))

	properties.TestingRun(t)
}
