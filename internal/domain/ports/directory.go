package ports

import (
	"context"

	"github.com/kevin07696/payout-service/internal/domain"
)

// CompanyDirectory exposes company status owned by another system
type CompanyDirectory interface {
	GetCompany(ctx context.Context, db DBTX, companyID string) (*domain.Company, error)
	ListActiveCompanyIDs(ctx context.Context, db DBTX) ([]string, error)
}

// PayeeDirectory exposes payee, recipient and equity election records
type PayeeDirectory interface {
	GetPayee(ctx context.Context, db DBTX, payeeID string) (*domain.Payee, error)

	// GetActiveRecipient returns nil, nil when the payee has no usable recipient
	GetActiveRecipient(ctx context.Context, db DBTX, payeeID string) (*domain.Recipient, error)

	// InvalidateRecipient flags a recipient the provider reported as inactive or deleted
	InvalidateRecipient(ctx context.Context, tx DBTX, recipientID string) error

	// GetEquityElection returns nil, nil when no election exists for the year
	GetEquityElection(ctx context.Context, db DBTX, payeeID string, year int) (*domain.EquityElection, error)

	// ResetEquityElection sets a year's election percent to zero
	ResetEquityElection(ctx context.Context, tx DBTX, payeeID string, year int) error
}

// JurisdictionPolicy maps a country to its payout treatment
type JurisdictionPolicy interface {
	RuleFor(ctx context.Context, db DBTX, countryCode string) (domain.JurisdictionRule, error)
}
