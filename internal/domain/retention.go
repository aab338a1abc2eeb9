package domain

import "github.com/shopspring/decimal"

// RetainedReason explains why payment was deliberately withheld
type RetainedReason string

const (
	RetainedReasonSanctionedJurisdiction RetainedReason = "sanctioned_jurisdiction"
	RetainedReasonBelowMinimum           RetainedReason = "below_minimum"
	RetainedReasonMissingTaxInfo         RetainedReason = "missing_tax_info"
	RetainedReasonNoPayoutMethod         RetainedReason = "no_payout_method"
)

// PolicyOutcome is the typed result of a pre-flight policy rejection.
// It is returned instead of an error: nothing went wrong, money was withheld on purpose.
type PolicyOutcome struct {
	Reason RetainedReason `json:"reason"`
	Detail string         `json:"detail,omitempty"`

	// Retained is true when the affected obligations were moved to retained.
	// Missing tax info only blocks the attempt and leaves state alone.
	Retained bool `json:"retained"`
}

// JurisdictionTreatment is how payouts to a country are handled
type JurisdictionTreatment string

const (
	JurisdictionDefault     JurisdictionTreatment = "default"
	JurisdictionDisallowed  JurisdictionTreatment = "disallowed"
	JurisdictionWithholding JurisdictionTreatment = "withholding"
)

// JurisdictionRule is one row of the jurisdiction policy table
type JurisdictionRule struct {
	CountryCode        string                `json:"country_code"`
	Treatment          JurisdictionTreatment `json:"treatment"`
	WithholdingPercent int                   `json:"withholding_percent"`
	RequiresTaxInfo    bool                  `json:"requires_tax_info"`
}

// DefaultJurisdictionRule applies to countries without an explicit row
func DefaultJurisdictionRule(countryCode string) JurisdictionRule {
	return JurisdictionRule{
		CountryCode:     countryCode,
		Treatment:       JurisdictionDefault,
		RequiresTaxInfo: true,
	}
}

// IsDisallowed returns true if payouts to this jurisdiction are blocked
func (r JurisdictionRule) IsDisallowed() bool {
	return r.Treatment == JurisdictionDisallowed
}

// Withhold splits a dividend into the net amount paid and the tax withheld.
// Withholding is rounded half-up; the payee receives the remainder.
func (r JurisdictionRule) Withhold(grossCents int64) (netCents, withheldCents int64) {
	if r.Treatment != JurisdictionWithholding || r.WithholdingPercent <= 0 {
		return grossCents, 0
	}
	pct := r.WithholdingPercent
	if pct > 100 {
		pct = 100
	}
	withheld := decimal.NewFromInt(grossCents).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(hundred).
		Round(0).
		IntPart()
	return grossCents - withheld, withheld
}
