package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// DirectoryRepository reads the collaborator-owned directory tables and
// implements CompanyDirectory, PayeeDirectory and JurisdictionPolicy.
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db ports.DBPort) *DirectoryRepository {
	return &DirectoryRepository{pool: db.GetDB()}
}

// GetCompany returns a company's settlement-relevant status
func (r *DirectoryRepository) GetCompany(ctx context.Context, db ports.DBTX, companyID string) (*domain.Company, error) {
	var c domain.Company
	err := executor(r.pool, db).QueryRow(ctx,
		`SELECT id, name, active, required_approvals FROM companies WHERE id = $1`, companyID,
	).Scan(&c.ID, &c.Name, &c.Active, &c.RequiredApprovals)
	if err != nil {
		return nil, notFound(err, domain.ErrorCodeCompanyNotFound, "get company", "company_id", companyID)
	}
	return &c, nil
}

// ListActiveCompanyIDs returns every active company
func (r *DirectoryRepository) ListActiveCompanyIDs(ctx context.Context, db ports.DBTX) ([]string, error) {
	rows, err := executor(r.pool, db).Query(ctx, `SELECT id FROM companies WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active companies: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list active companies: %w", err)
	}
	return ids, nil
}

// GetPayee returns the payee profile
func (r *DirectoryRepository) GetPayee(ctx context.Context, db ports.DBTX, payeeID string) (*domain.Payee, error) {
	var p domain.Payee
	err := executor(r.pool, db).QueryRow(ctx, `
		SELECT id, company_id, email, country_code, tax_info_confirmed
		FROM payees WHERE id = $1`, payeeID,
	).Scan(&p.ID, &p.CompanyID, &p.Email, &p.CountryCode, &p.TaxInfoConfirmed)
	if err != nil {
		return nil, notFound(err, domain.ErrorCodePayeeNotFound, "get payee", "payee_id", payeeID)
	}
	return &p, nil
}

// GetActiveRecipient returns the newest active recipient, or nil
func (r *DirectoryRepository) GetActiveRecipient(ctx context.Context, db ports.DBTX, payeeID string) (*domain.Recipient, error) {
	var rc domain.Recipient
	err := executor(r.pool, db).QueryRow(ctx, `
		SELECT id, payee_id, provider_account_id, currency, active
		FROM recipients
		WHERE payee_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1`, payeeID,
	).Scan(&rc.ID, &rc.PayeeID, &rc.ProviderAccountID, &rc.Currency, &rc.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active recipient: %w", err)
	}
	return &rc, nil
}

// InvalidateRecipient deactivates a recipient
func (r *DirectoryRepository) InvalidateRecipient(ctx context.Context, tx ports.DBTX, recipientID string) error {
	_, err := executor(r.pool, tx).Exec(ctx,
		`UPDATE recipients SET active = FALSE, invalidated_at = NOW() WHERE id = $1 AND active`, recipientID)
	if err != nil {
		return fmt.Errorf("invalidate recipient: %w", err)
	}
	return nil
}

// GetEquityElection returns nil when no election exists for the year
func (r *DirectoryRepository) GetEquityElection(ctx context.Context, db ports.DBTX, payeeID string, year int) (*domain.EquityElection, error) {
	var e domain.EquityElection
	err := executor(r.pool, db).QueryRow(ctx, `
		SELECT payee_id, company_id, year, equity_percent, locked
		FROM equity_elections WHERE payee_id = $1 AND year = $2`, payeeID, year,
	).Scan(&e.PayeeID, &e.CompanyID, &e.Year, &e.EquityPercent, &e.Locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get equity election: %w", err)
	}
	return &e, nil
}

// ResetEquityElection zeroes a year's election percent
func (r *DirectoryRepository) ResetEquityElection(ctx context.Context, tx ports.DBTX, payeeID string, year int) error {
	_, err := executor(r.pool, tx).Exec(ctx, `
		UPDATE equity_elections SET equity_percent = 0, updated_at = NOW()
		WHERE payee_id = $1 AND year = $2`, payeeID, year)
	if err != nil {
		return fmt.Errorf("reset equity election: %w", err)
	}
	return nil
}

// RuleFor returns the jurisdiction rule for a country, or the default rule
func (r *DirectoryRepository) RuleFor(ctx context.Context, db ports.DBTX, countryCode string) (domain.JurisdictionRule, error) {
	var (
		rule      domain.JurisdictionRule
		treatment string
	)
	err := executor(r.pool, db).QueryRow(ctx, `
		SELECT country_code, treatment, withholding_percent, requires_tax_info
		FROM jurisdiction_rules WHERE country_code = $1`, countryCode,
	).Scan(&rule.CountryCode, &treatment, &rule.WithholdingPercent, &rule.RequiresTaxInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultJurisdictionRule(countryCode), nil
	}
	if err != nil {
		return domain.JurisdictionRule{}, fmt.Errorf("get jurisdiction rule: %w", err)
	}
	rule.Treatment = domain.JurisdictionTreatment(treatment)
	return rule, nil
}

var (
	_ ports.CompanyDirectory     = (*DirectoryRepository)(nil)
	_ ports.PayeeDirectory       = (*DirectoryRepository)(nil)
	_ ports.JurisdictionPolicy   = (*DirectoryRepository)(nil)
	_ ports.ObligationRepository = (*ObligationRepository)(nil)
	_ ports.BatchRepository      = (*BatchRepository)(nil)
	_ ports.PaymentRepository    = (*PaymentRepository)(nil)
	_ ports.NotificationOutbox   = (*NotificationOutbox)(nil)
	_ ports.DBPort               = (*DBExecutor)(nil)
)
