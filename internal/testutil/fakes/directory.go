package fakes

import (
	"context"
	"sort"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// CompanyDirectory implements ports.CompanyDirectory
type CompanyDirectory struct{ s *Store }

func (d *CompanyDirectory) GetCompany(_ context.Context, _ ports.DBTX, companyID string) (*domain.Company, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	c, ok := d.s.data.companies[companyID]
	if !ok {
		return nil, domain.WrapError(domain.ErrorCodeCompanyNotFound, "company not found", nil).WithDetail("company_id", companyID)
	}
	x := *c
	return &x, nil
}

func (d *CompanyDirectory) ListActiveCompanyIDs(_ context.Context, _ ports.DBTX) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var ids []string
	for id, c := range d.s.data.companies {
		if c.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// PayeeDirectory implements ports.PayeeDirectory
type PayeeDirectory struct{ s *Store }

func (d *PayeeDirectory) GetPayee(_ context.Context, _ ports.DBTX, payeeID string) (*domain.Payee, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	p, ok := d.s.data.payees[payeeID]
	if !ok {
		return nil, domain.WrapError(domain.ErrorCodePayeeNotFound, "payee not found", nil).WithDetail("payee_id", payeeID)
	}
	x := *p
	return &x, nil
}

func (d *PayeeDirectory) GetActiveRecipient(_ context.Context, _ ports.DBTX, payeeID string) (*domain.Recipient, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, r := range d.s.data.recipients {
		if r.PayeeID == payeeID && r.Active {
			x := *r
			return &x, nil
		}
	}
	return nil, nil
}

func (d *PayeeDirectory) InvalidateRecipient(_ context.Context, _ ports.DBTX, recipientID string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if r, ok := d.s.data.recipients[recipientID]; ok {
		r.Active = false
	}
	return nil
}

func (d *PayeeDirectory) GetEquityElection(_ context.Context, _ ports.DBTX, payeeID string, year int) (*domain.EquityElection, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	e, ok := d.s.data.elections[electionKey(payeeID, year)]
	if !ok {
		return nil, nil
	}
	x := *e
	return &x, nil
}

func (d *PayeeDirectory) ResetEquityElection(_ context.Context, _ ports.DBTX, payeeID string, year int) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if e, ok := d.s.data.elections[electionKey(payeeID, year)]; ok {
		e.EquityPercent = 0
	}
	return nil
}

// JurisdictionPolicy implements ports.JurisdictionPolicy
type JurisdictionPolicy struct{ s *Store }

func (p *JurisdictionPolicy) RuleFor(_ context.Context, _ ports.DBTX, countryCode string) (domain.JurisdictionRule, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if r, ok := p.s.data.rules[countryCode]; ok {
		return r, nil
	}
	return domain.DefaultJurisdictionRule(countryCode), nil
}
