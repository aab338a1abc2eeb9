package domain

// Company is the paying company as seen by the settlement engine
type Company struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Active            bool   `json:"active"`
	RequiredApprovals int    `json:"required_approvals"`
}

// Payee is the receiving party of an obligation
type Payee struct {
	ID               string `json:"id"`
	CompanyID        string `json:"company_id"`
	Email            string `json:"email"`
	CountryCode      string `json:"country_code"`
	TaxInfoConfirmed bool   `json:"tax_info_confirmed"`
}

// Recipient is a payee's bank or wallet account registered with the provider
type Recipient struct {
	ID                string `json:"id"`
	PayeeID           string `json:"payee_id"`
	ProviderAccountID string `json:"provider_account_id"`
	Currency          string `json:"currency"`
	Active            bool   `json:"active"`
}

// EquityElection is a payee's chosen equity percentage for one year
type EquityElection struct {
	PayeeID       string `json:"payee_id"`
	CompanyID     string `json:"company_id"`
	Year          int    `json:"year"`
	EquityPercent int    `json:"equity_percent"`
	Locked        bool   `json:"locked"`
}
