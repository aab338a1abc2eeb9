package obligation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kevin07696/payout-service/internal/domain"
	"github.com/kevin07696/payout-service/internal/domain/ports"
	"github.com/kevin07696/payout-service/pkg/timeutil"
)

// Config holds the settlement settings the service applies at creation
type Config struct {
	FeeSchedule domain.FeeSchedule

	// ResetElectionOnZeroUnits also zeroes the payee's election for the year
	// when a split floors to cash. Otherwise only the one obligation is affected.
	ResetElectionOnZeroUnits bool
}

// CreateObligationRequest is the upstream workflow's request to record an obligation
type CreateObligationRequest struct {
	ObligationDate    time.Time
	Invoice           *domain.InvoiceDetails
	Dividend          *domain.DividendDetails
	Buyback           *domain.BuybackDetails
	ID                string
	CompanyID         string
	PayeeID           string
	Kind              domain.ObligationKind
	GrossAmountCents  int64
	RequiredApprovals int
}

// ApprovalResult reports the obligation after an approval or rejection
type ApprovalResult struct {
	Obligation *domain.Obligation
	Changed    bool
}

// Service implements the obligation approval workflow
type Service struct {
	db          ports.DBPort
	obligations ports.ObligationRepository
	payments    ports.PaymentRepository
	companies   ports.CompanyDirectory
	payees      ports.PayeeDirectory
	logger      ports.Logger
	now         func() time.Time
	cfg         Config
}

// NewService creates a new obligation service
func NewService(
	db ports.DBPort,
	obligations ports.ObligationRepository,
	payments ports.PaymentRepository,
	companies ports.CompanyDirectory,
	payees ports.PayeeDirectory,
	cfg Config,
	logger ports.Logger,
) *Service {
	return &Service{
		db:          db,
		obligations: obligations,
		payments:    payments,
		companies:   companies,
		payees:      payees,
		cfg:         cfg,
		logger:      logger,
		now:         timeutil.Now,
	}
}

// Create records a new obligation in received state. Invoices are split into
// cash and equity using the payee's election for the obligation year.
func (s *Service) Create(ctx context.Context, req CreateObligationRequest) (*domain.Obligation, error) {
	now := s.now()
	if req.ObligationDate.IsZero() {
		req.ObligationDate = now
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	o := &domain.Obligation{
		ID:                req.ID,
		CompanyID:         req.CompanyID,
		PayeeID:           req.PayeeID,
		Kind:              req.Kind,
		State:             domain.ObligationStateReceived,
		GrossAmountCents:  req.GrossAmountCents,
		CashAmountCents:   req.GrossAmountCents,
		RequiredApprovals: req.RequiredApprovals,
		ObligationDate:    req.ObligationDate.UTC(),
		Invoice:           req.Invoice,
		Dividend:          req.Dividend,
		Buyback:           req.Buyback,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		company, err := s.companies.GetCompany(ctx, tx, req.CompanyID)
		if err != nil {
			return err
		}
		if o.RequiredApprovals == 0 {
			o.RequiredApprovals = max(company.RequiredApprovals, 1)
		}

		if o.Kind == domain.ObligationKindInvoice && o.Invoice != nil {
			if err := s.applySplit(ctx, tx, o); err != nil {
				return err
			}
			o.FeeCents = s.cfg.FeeSchedule.FeeCents(o.GrossAmountCents)
		}

		if err := o.Validate(); err != nil {
			return err
		}
		if err := s.obligations.Create(ctx, tx, o); err != nil {
			return fmt.Errorf("create obligation: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("create obligation failed",
			ports.String("company_id", req.CompanyID),
			ports.String("payee_id", req.PayeeID),
			ports.Err(err))
		return nil, err
	}

	s.logger.Info("obligation created",
		ports.String("obligation_id", o.ID),
		ports.String("kind", string(o.Kind)),
		ports.Int64("gross_cents", o.GrossAmountCents),
		ports.Int64("equity_cents", o.EquityAmountCents))

	return o, nil
}

// applySplit divides an invoice by the payee's election for the obligation year
func (s *Service) applySplit(ctx context.Context, tx ports.DBTX, o *domain.Obligation) error {
	year := o.ObligationDate.Year()
	election, err := s.payees.GetEquityElection(ctx, tx, o.PayeeID, year)
	if err != nil {
		return fmt.Errorf("get equity election: %w", err)
	}

	percent := 0
	if election != nil {
		percent = election.EquityPercent
	}

	split, err := domain.CalculateSplit(o.GrossAmountCents, percent, o.Invoice.SharePriceCents)
	if err != nil {
		return err
	}
	o.ApplySplit(split)
	o.Invoice.EquityPercent = percent

	if !split.FlooredToCash {
		return nil
	}
	o.Invoice.EquityPercent = 0

	s.logger.Info("equity share floored to cash",
		ports.String("obligation_id", o.ID),
		ports.String("payee_id", o.PayeeID),
		ports.Int("equity_percent", percent),
		ports.Bool("reset_election", s.cfg.ResetElectionOnZeroUnits))

	if s.cfg.ResetElectionOnZeroUnits {
		if err := s.payees.ResetEquityElection(ctx, tx, o.PayeeID, year); err != nil {
			return fmt.Errorf("reset equity election: %w", err)
		}
	}
	return nil
}

// Approve records approverID's approval. Repeated approvals by the same
// approver and approvals of closed obligations are no-ops.
func (s *Service) Approve(ctx context.Context, id, approverID string) (*ApprovalResult, error) {
	result := &ApprovalResult{}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		o, err := s.obligations.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Obligation = o

		changed, err := o.Approve(approverID, s.now())
		if err != nil || !changed {
			return err
		}

		added, err := s.obligations.AddApproval(ctx, tx, o.ID, approverID, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("add approval: %w", err)
		}
		if !added {
			return nil
		}
		if err := s.obligations.Update(ctx, tx, o); err != nil {
			return fmt.Errorf("update obligation: %w", err)
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.Info("obligation approved",
			ports.String("obligation_id", id),
			ports.String("approver_id", approverID),
			ports.Int("approvals", result.Obligation.ApprovalCount()),
			ports.Int("required", result.Obligation.RequiredApprovals))
	}
	return result, nil
}

// Reject clears every approval and closes the obligation. A failed
// obligation that a payment is being retried for cannot be rejected.
func (s *Service) Reject(ctx context.Context, id, reason string) (*ApprovalResult, error) {
	result := &ApprovalResult{}

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		o, err := s.obligations.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Obligation = o

		if o.State == domain.ObligationStateFailed {
			open, err := s.payments.ListOpenObligationIDs(ctx, tx, []string{o.ID})
			if err != nil {
				return fmt.Errorf("check payments in flight: %w", err)
			}
			if len(open) > 0 {
				return domain.WrapError(domain.ErrorCodeInvalidTransition, "obligation has a payment in flight", nil).
					WithDetail("obligation_id", o.ID)
			}
		}

		changed, err := o.Reject(reason, s.now())
		if err != nil || !changed {
			return err
		}
		if err := s.obligations.ClearApprovals(ctx, tx, o.ID); err != nil {
			return fmt.Errorf("clear approvals: %w", err)
		}
		if err := s.obligations.Update(ctx, tx, o); err != nil {
			return fmt.Errorf("update obligation: %w", err)
		}
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		s.logger.Info("obligation rejected", ports.String("obligation_id", id))
	}
	return result, nil
}

// ReleaseRetention returns a retained obligation to the payable pool
func (s *Service) ReleaseRetention(ctx context.Context, id string) (*domain.Obligation, error) {
	var released *domain.Obligation

	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		o, err := s.obligations.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		var reason domain.RetainedReason
		if o.RetainedReason != nil {
			reason = *o.RetainedReason
		}
		if _, err := o.ReleaseRetention(s.now()); err != nil {
			return err
		}
		if err := s.obligations.Update(ctx, tx, o); err != nil {
			return fmt.Errorf("update obligation: %w", err)
		}
		s.logger.Info("obligation released from retention",
			ports.String("obligation_id", id),
			ports.String("reason", string(reason)))
		released = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// Get returns one obligation with its approvers
func (s *Service) Get(ctx context.Context, id string) (*domain.Obligation, error) {
	return s.obligations.GetByID(ctx, nil, id)
}

// ListByCompany lists a company's obligations
func (s *Service) ListByCompany(ctx context.Context, companyID string, filter ports.ObligationFilter) ([]*domain.Obligation, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.obligations.ListByCompany(ctx, nil, companyID, filter)
}
